package logger

import "context"

// Logger is the structured logging contract used across the service.
// Methods accept a message followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger whose entries carry the given key/value pairs.
	With(args ...any) Logger

	// WithContext returns a child logger annotated with the request id from ctx, if any.
	WithContext(ctx context.Context) Logger
}
