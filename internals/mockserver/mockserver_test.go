package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/sdk"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server, *sdk.Client) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	}
	srv := New(opts)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	client := sdk.NewClient(sdk.WithBaseURL(ts.URL+"/api"), sdk.WithSessionCookie(srv.opts.CookieName, opts.Session))
	return srv, ts, client
}

func TestListFiltersAndStats(t *testing.T) {
	srv, _, client := newTestServer(t, Options{})
	srv.Store.Seed(
		schemas.AnalysisTask{Filename: "beach.jpg", Model: "llava", Status: schemas.AnalysisStatusPending},
		schemas.AnalysisTask{Filename: "dog.jpg", Model: "llava", Status: schemas.AnalysisStatusPending},
	)
	ctx := context.Background()

	tasks, err := client.ListAnalyses(ctx, schemas.ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != 2 {
		t.Fatalf("expected newest first, got %+v", tasks)
	}

	tasks, err = client.ListAnalyses(ctx, schemas.ListQuery{Search: "BEACH"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Filename != "beach.jpg" {
		t.Fatalf("unexpected search result %+v", tasks)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStepLifecycle(t *testing.T) {
	srv, _, client := newTestServer(t, Options{})
	ctx := context.Background()

	ok, err := client.SubmitAnalysis(ctx, schemas.SubmitRequest{MediaID: 10, Model: "llava"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	bad, err := client.SubmitAnalysis(ctx, schemas.SubmitRequest{MediaID: 11, Model: FailingModel})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	srv.Step()
	srv.Step()

	done, err := client.GetAnalysis(ctx, ok.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != schemas.AnalysisStatusCompleted || done.Result == nil {
		t.Fatalf("expected completed with result, got %+v", done)
	}
	if err := done.Validate(); err != nil {
		t.Fatalf("invalid record: %v", err)
	}

	failed, err := client.GetAnalysis(ctx, bad.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != schemas.AnalysisStatusFailed || failed.ErrorMessage == "" {
		t.Fatalf("expected failed with error, got %+v", failed)
	}

	retried, err := client.RetryAnalysis(ctx, bad.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != schemas.AnalysisStatusPending || retried.RetryCount != 1 {
		t.Fatalf("unexpected retry result %+v", retried)
	}
	if err := retried.Validate(); err != nil {
		t.Fatalf("invalid record: %v", err)
	}
}

func TestActionErrors(t *testing.T) {
	srv, _, client := newTestServer(t, Options{})
	srv.Store.Seed(
		schemas.AnalysisTask{ID: 1, Status: schemas.AnalysisStatusProcessing},
	)
	ctx := context.Background()

	_, err := client.RetryAnalysis(ctx, 1)
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Message != "analysis is already running" {
		t.Fatalf("expected conflict APIError, got %v", err)
	}

	_, err = client.CancelAnalysis(ctx, 99)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	srv.Store.FailNext("cancel", http.StatusServiceUnavailable, "queue offline")
	_, err = client.CancelAnalysis(ctx, 1)
	if got := sdk.MessageOf(err, "fallback"); got != "queue offline" {
		t.Fatalf("expected injected failure message, got %q", got)
	}

	cancelled, err := client.CancelAnalysis(ctx, 1)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != schemas.AnalysisStatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("unexpected cancel result %+v", cancelled)
	}
}

func TestSessionRequired(t *testing.T) {
	_, ts, client := newTestServer(t, Options{Session: "s3cret"})

	if _, err := client.Stats(context.Background()); err != nil {
		t.Fatalf("authorized stats: %v", err)
	}

	anonymous := sdk.NewClient(sdk.WithBaseURL(ts.URL + "/api"))
	if _, err := anonymous.Stats(context.Background()); !errors.Is(err, sdk.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestInvalidStatusFilter(t *testing.T) {
	_, ts, _ := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/api/analyses?status=exploded")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readWS(t *testing.T, conn *websocket.Conn) schemas.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	var msg schemas.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode websocket message: %v", err)
	}
	return msg
}

func TestWebSocketPushAndPong(t *testing.T) {
	srv, ts, _ := newTestServer(t, Options{})
	srv.Store.Seed(schemas.AnalysisTask{ID: 5, Filename: "cat.jpg", Status: schemas.AnalysisStatusPending})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + WebSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Connections() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := conn.WriteJSON(schemas.WSMessage{Type: schemas.WSMessagePing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != schemas.WSMessagePong {
		t.Fatalf("expected pong, got %s", msg.Type)
	}

	srv.Step()
	update := readWS(t, conn)
	if update.Type != schemas.WSMessageAnalysisUpdate {
		t.Fatalf("expected analysis update, got %s", update.Type)
	}
	var task schemas.AnalysisTask
	if err := json.Unmarshal(update.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ID != 5 || task.Status != schemas.AnalysisStatusProcessing {
		t.Fatalf("unexpected pushed task %+v", task)
	}
	if stats := readWS(t, conn); stats.Type != schemas.WSMessageStatsUpdate {
		t.Fatalf("expected stats update, got %s", stats.Type)
	}

	srv.DropConnections()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to drop")
	}
}
