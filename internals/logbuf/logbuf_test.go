package logbuf

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeRecord(t *testing.T, out *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("decode record %q: %v", out.String(), err)
	}
	return record
}

func TestFlushEmitsOneRecord(t *testing.T) {
	var out bytes.Buffer
	parent := New(slog.String("service", "mock"))
	request := parent.Fork(slog.String("path", "/api/analyses"))
	request.Info("listing", slog.Int("count", 3))
	request.Add(slog.Int("status", 200))

	request.Flush(context.Background(), captureLogger(&out), slog.LevelInfo, "request")

	record := decodeRecord(t, &out)
	if record["service"] != "mock" || record["path"] != "/api/analyses" {
		t.Fatalf("missing inherited attrs: %v", record)
	}
	if record["status"] != float64(200) {
		t.Fatalf("missing added attr: %v", record)
	}
	entries, ok := record["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one entry, got %v", record["entries"])
	}
	entry := entries[0].(map[string]any)
	if entry["message"] != "listing" || entry["count"] != float64(3) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if request.Len() != 0 {
		t.Fatalf("flush should empty the buffer")
	}
}

func TestFlushEscalatesLevel(t *testing.T) {
	var out bytes.Buffer
	buffer := New()
	buffer.Info("fine")
	buffer.Error("broken")

	buffer.Flush(context.Background(), captureLogger(&out), slog.LevelInfo, "request")

	if record := decodeRecord(t, &out); record["level"] != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", record["level"])
	}
}

func TestForkDoesNotShareEntries(t *testing.T) {
	parent := New()
	child := parent.Fork()
	child.Info("only child")
	if parent.Len() != 0 || child.Len() != 1 {
		t.Fatalf("entries leaked: parent=%d child=%d", parent.Len(), child.Len())
	}
}

func TestFromContext(t *testing.T) {
	buffer := New()
	ctx := WithContext(context.Background(), buffer)
	if FromContext(ctx) != buffer {
		t.Fatalf("expected stored buffer")
	}
	if FromContext(context.Background()) == nil {
		t.Fatalf("expected detached buffer")
	}
}
