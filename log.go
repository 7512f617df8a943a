package pyext

import (
	"context"

	"github.com/rs/zerolog"
)

type logKey struct{}

var nopLogger = zerolog.Nop()

// WithLogger attaches the given logger to the context.
// Builders log through it; without one they are silent.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

func logger(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(logKey{}).(*zerolog.Logger); ok && l != nil {
		return l
	}
	return &nopLogger
}
