// Package shared holds the context plumbing used across subsystems.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}
type kindKey struct{}

// WithRequestID attaches a task unit's request_id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID extracts request_id from context. Returns "-" if absent so log
// lines always carry the field.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewRequestID generates a new request_id.
func NewRequestID() string {
	return uuid.NewString()
}

// WithKind attaches the operation kind being executed to the context.
func WithKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindKey{}, kind)
}

// Kind extracts the operation kind from context. Returns "" if absent.
func Kind(ctx context.Context) string {
	if v, ok := ctx.Value(kindKey{}).(string); ok {
		return v
	}
	return ""
}
