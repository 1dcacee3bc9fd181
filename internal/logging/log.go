package logging

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
)

type ctxKey struct{}

var base = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
})

// Default returns the process logger.
func Default() *log.Logger {
	return base
}

// SetLevel adjusts the process-wide log level.
func SetLevel(level log.Level) {
	base.SetLevel(level)
}

// With returns a child of the process logger with the given key/value pairs.
func With(kv ...any) *log.Logger {
	return base.With(kv...)
}

// Into stores a logger in the context so downstream code logs with the
// request's fields.
func Into(ctx context.Context, logger *log.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request-scoped logger, or the process logger when
// none was attached.
func FromContext(ctx context.Context) *log.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*log.Logger); ok {
		return logger
	}
	return base
}
