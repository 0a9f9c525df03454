package cli

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pixelsort/taskwatch/internals/mockserver"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

type cliEnv struct {
	server  *mockserver.Server
	baseURL string
	dataDir string
}

func setupCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	server := mockserver.New(mockserver.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return cliEnv{server: server, baseURL: ts.URL + "/api", dataDir: t.TempDir()}
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--base-url", e.baseURL, "--data-dir", e.dataDir}, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	err := cmd.Execute()
	return stdout.String(), err
}

func seedTasks(server *mockserver.Server) {
	done := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	server.Store.Seed(
		schemas.AnalysisTask{ID: 1, Filename: "beach.jpg", Model: "llava", Status: schemas.AnalysisStatusFailed, CompletedAt: &done, ErrorMessage: "timeout"},
		schemas.AnalysisTask{ID: 2, Filename: "dog.jpg", Model: "llava", Status: schemas.AnalysisStatusProcessing},
	)
}

func TestListLiveAndCached(t *testing.T) {
	env := setupCLIEnv(t)
	seedTasks(env.server)

	output, err := env.run(t, "list", "--search", "beach")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(output, "beach.jpg") || strings.Contains(output, "dog.jpg") {
		t.Fatalf("unexpected list output:\n%s", output)
	}
	if !strings.Contains(output, "page 1/1, 1 matching") {
		t.Fatalf("missing page footer:\n%s", output)
	}

	output, err = env.run(t, "list", "--cached", "--status", "processing")
	if err != nil {
		t.Fatalf("cached list: %v", err)
	}
	if !strings.Contains(output, "cached") || !strings.Contains(output, "dog.jpg") || strings.Contains(output, "beach.jpg") {
		t.Fatalf("unexpected cached output:\n%s", output)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "list", "--status", "exploded")
	if !errors.Is(err, schemas.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRetryAndCancel(t *testing.T) {
	env := setupCLIEnv(t)
	seedTasks(env.server)

	output, err := env.run(t, "retry", "1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !strings.Contains(output, "analysis 1: pending") || !strings.Contains(output, "retries: 1") {
		t.Fatalf("unexpected retry output:\n%s", output)
	}

	_, err = env.run(t, "retry", "2")
	if err == nil || err.Error() != "analysis is already running" {
		t.Fatalf("expected backend message, got %v", err)
	}

	output, err = env.run(t, "cancel", "2")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(output, "analysis 2: cancelled") {
		t.Fatalf("unexpected cancel output:\n%s", output)
	}

	if _, err := env.run(t, "retry", "abc"); !errors.Is(err, schemas.ErrValidation) {
		t.Fatalf("expected invalid id, got %v", err)
	}
}

func TestSubmitAndStats(t *testing.T) {
	env := setupCLIEnv(t)

	output, err := env.run(t, "submit", "--media", "42", "--model", "llava")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(output, "analysis 1: pending") {
		t.Fatalf("unexpected submit output:\n%s", output)
	}

	output, err = env.run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(output, "total 1") || !strings.Contains(output, "pending 1") {
		t.Fatalf("unexpected stats output:\n%s", output)
	}

	if _, err := env.run(t, "submit", "--media", "0", "--model", "llava"); !errors.Is(err, schemas.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
