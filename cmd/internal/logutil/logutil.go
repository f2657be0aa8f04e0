// Package logutil carries the request-scoped zerolog logger in a context.
package logutil

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type key byte

const loggerKey = key(1)

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or the global logger.
// The result is a pointer so event methods can be chained on the call.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &log.Logger
	}
	v, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		return &log.Logger
	}
	return &v
}
