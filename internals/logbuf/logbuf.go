// Package logbuf collects the log lines of one unit of work, such as a single
// HTTP request, and emits them as one structured record when the work ends.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Entry struct {
	Level   slog.Level
	Message string
	At      time.Time
	Attrs   []slog.Attr
}

type Buffer struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	entries []Entry
	now     func() time.Time
}

func New(attrs ...slog.Attr) *Buffer {
	return &Buffer{attrs: append([]slog.Attr(nil), attrs...), now: time.Now}
}

// Fork returns a buffer that inherits b's attributes but records its own
// entries.
func (b *Buffer) Fork(attrs ...slog.Attr) *Buffer {
	b.mu.Lock()
	inherited := make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	inherited = append(inherited, b.attrs...)
	b.mu.Unlock()
	return &Buffer{attrs: append(inherited, attrs...), now: b.now}
}

// Add attaches attributes to the record Flush emits.
func (b *Buffer) Add(attrs ...slog.Attr) {
	b.mu.Lock()
	b.attrs = append(b.attrs, attrs...)
	b.mu.Unlock()
}

func (b *Buffer) Log(level slog.Level, message string, attrs ...slog.Attr) {
	b.mu.Lock()
	b.entries = append(b.entries, Entry{Level: level, Message: message, At: b.now(), Attrs: attrs})
	b.mu.Unlock()
}

func (b *Buffer) Debug(message string, attrs ...slog.Attr) { b.Log(slog.LevelDebug, message, attrs...) }
func (b *Buffer) Info(message string, attrs ...slog.Attr)  { b.Log(slog.LevelInfo, message, attrs...) }
func (b *Buffer) Warn(message string, attrs ...slog.Attr)  { b.Log(slog.LevelWarn, message, attrs...) }
func (b *Buffer) Error(message string, attrs ...slog.Attr) { b.Log(slog.LevelError, message, attrs...) }

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush writes one record to logger carrying the buffered attributes and
// entries, then empties the buffer. The record is logged at the highest level
// seen, never below level.
func (b *Buffer) Flush(ctx context.Context, logger *slog.Logger, level slog.Level, message string) {
	b.mu.Lock()
	entries := b.entries
	b.entries = nil
	attrs := make([]slog.Attr, 0, len(b.attrs)+1)
	attrs = append(attrs, b.attrs...)
	b.mu.Unlock()

	for _, entry := range entries {
		if entry.Level > level {
			level = entry.Level
		}
	}
	if len(entries) > 0 {
		attrs = append(attrs, slog.Any("entries", payload(entries)))
	}
	logger.LogAttrs(ctx, level, message, attrs...)
}

func payload(entries []Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for i, entry := range entries {
		item := map[string]any{
			"seq":     i + 1,
			"level":   entry.Level.String(),
			"message": entry.Message,
			"at":      entry.At,
		}
		for _, attr := range entry.Attrs {
			if _, taken := item[attr.Key]; taken || attr.Key == "" {
				continue
			}
			item[attr.Key] = attr.Value.Resolve().Any()
		}
		out = append(out, item)
	}
	return out
}
