package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixelsort/taskwatch/internals/schemas"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache", "snapshot.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadEmpty(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestSaveReplacesSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	done := newer.Add(time.Minute)
	first := []schemas.AnalysisTask{
		{ID: 1, Status: schemas.AnalysisStatusPending, CreatedAt: &older},
		{ID: 2, Status: schemas.AnalysisStatusCompleted, CreatedAt: &newer, CompletedAt: &done, Result: &schemas.AnalysisResult{Description: "mountains"}},
	}
	if err := store.Save(ctx, first, schemas.ComputeStats(first), newer); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Tasks) != 2 || snap.Tasks[0].ID != 2 {
		t.Fatalf("expected newest first, got %+v", snap.Tasks)
	}
	if snap.Tasks[0].Description() != "mountains" {
		t.Fatalf("record fields lost: %+v", snap.Tasks[0])
	}
	if snap.Stats.Total != 2 || snap.Stats.Pending != 1 {
		t.Fatalf("stats: %+v", snap.Stats)
	}
	if !snap.SavedAt.Equal(newer) {
		t.Fatalf("saved at: got %s want %s", snap.SavedAt, newer)
	}

	second := []schemas.AnalysisTask{{ID: 7, Status: schemas.AnalysisStatusProcessing}}
	if err := store.Save(ctx, second, schemas.ComputeStats(second), done); err != nil {
		t.Fatalf("second save: %v", err)
	}
	snap, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].ID != 7 {
		t.Fatalf("expected snapshot replaced, got %+v", snap.Tasks)
	}
}

func TestReopenKeepsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tasks := []schemas.AnalysisTask{{ID: 3, Status: schemas.AnalysisStatusPending}}
	if err := store.Save(ctx, tasks, schemas.ComputeStats(tasks), time.Now()); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	snap, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].ID != 3 {
		t.Fatalf("unexpected tasks: %+v", snap.Tasks)
	}
}
