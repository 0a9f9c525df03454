package logbuf

import "context"

type contextKey struct{}

func WithContext(ctx context.Context, buffer *Buffer) context.Context {
	return context.WithValue(ctx, contextKey{}, buffer)
}

// FromContext returns the request buffer, or a detached one so callers never
// need a nil check.
func FromContext(ctx context.Context) *Buffer {
	if buffer, ok := ctx.Value(contextKey{}).(*Buffer); ok {
		return buffer
	}
	return New()
}
