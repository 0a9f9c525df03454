// Package snapshot keeps the last successfully loaded task list on disk so
// `taskwatch list --cached` works without the backend.
package snapshot

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/pixelsort/taskwatch/internals/schemas"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var ErrEmpty = errors.New("no snapshot saved yet")

type Store struct {
	db *sql.DB
}

type Snapshot struct {
	Tasks   []schemas.AnalysisTask
	Stats   schemas.Stats
	SavedAt time.Time
}

func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("snapshot migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("snapshot migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot in one transaction.
func (s *Store) Save(ctx context.Context, tasks []schemas.AnalysisTask, stats schemas.Stats, savedAt time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analyses`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO analyses (id, status, created_at, record_json)
VALUES (?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, task := range tasks {
		record, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, task.ID, string(task.Status), formatTime(task.CreatedAt), string(record)); err != nil {
			return fmt.Errorf("save analysis %d: %w", task.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshot_meta (id, saved_at, stats_json) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at, stats_json = excluded.stats_json
`, savedAt.UTC().Format(time.RFC3339Nano), string(statsJSON)); err != nil {
		return err
	}
	return tx.Commit()
}

// Load returns the last saved snapshot, newest tasks first. It returns
// ErrEmpty when nothing has been saved.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	var savedAt string
	var statsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT saved_at, stats_json FROM snapshot_meta WHERE id = 1`).Scan(&savedAt, &statsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	if snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return nil, fmt.Errorf("parse saved_at: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &snap.Stats); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT record_json FROM analyses ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap.Tasks = []schemas.AnalysisTask{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var task schemas.AnalysisTask
		if err := json.Unmarshal([]byte(record), &task); err != nil {
			return nil, fmt.Errorf("parse analysis: %w", err)
		}
		snap.Tasks = append(snap.Tasks, task)
	}
	return snap, rows.Err()
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
