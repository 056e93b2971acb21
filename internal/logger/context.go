package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

const (
	requestIDKey contextKey = iota
	disputeKeyKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithDisputeKey returns a new context carrying the dispute being worked on.
func WithDisputeKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, disputeKeyKey, key)
}

// DisputeKey extracts the dispute key from the context.
func DisputeKey(ctx context.Context) string {
	k, _ := ctx.Value(disputeKeyKey).(string)
	return k
}

// Attrs returns the correlation attributes stored in ctx, ready to be passed
// to slog calls as trailing arguments.
func Attrs(ctx context.Context) []any {
	var out []any
	if id := RequestID(ctx); id != "" {
		out = append(out, slog.String("request_id", id))
	}
	if k := DisputeKey(ctx); k != "" {
		out = append(out, slog.String("dispute", k))
	}
	return out
}
