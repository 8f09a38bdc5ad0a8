package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	return FromContextOr(ctx, defaultLogger)
}

// FromContextOr extracts logger from context, or returns fallback when
// ctx carries none.
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return fallback
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithVaultName tags the context logger with the vault name.
func WithVaultName(ctx context.Context, name string) context.Context {
	return WithLogger(ctx, FromContext(ctx).WithField("vault", name))
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Scoped makes logger the context logger, keeping the request ID already
// in ctx. It returns the new context and the tagged logger.
func Scoped(ctx context.Context, logger *Logger) (context.Context, *Logger) {
	if id := GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}
	return WithLogger(ctx, logger), logger
}

var defaultLogger = newLogger(InfoLevel, "text", os.Stderr, false)

// SetDefault sets the logger returned when a context carries none.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
