package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	commandKey   contextKey = "command"
)

// WithSessionID attaches a session id to the context for log correlation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithCommand attaches the workflow command being handled.
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, commandKey, command)
}

// ContextFields extracts log fields from context values set by the helpers
// above. Missing values produce no fields.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("session_id", v))
	}
	if v, ok := ctx.Value(commandKey).(string); ok && v != "" {
		fields = append(fields, zap.String("command", v))
	}
	return fields
}
