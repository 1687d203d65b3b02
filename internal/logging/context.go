package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID returns a new context carrying the given correlation ID
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID returns the correlation ID from the context, or "" if absent
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID creates a new random correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
