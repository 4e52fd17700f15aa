// Package logger provides utilities for working with [zerolog] and [context.Context].
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// defaultLogger is used whenever a [context.Context] carries no logger of its own.
var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// InContext returns a copy of ctx carrying l, retrievable with [FromContext].
func InContext(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the [zerolog.Logger] carried by ctx, or a package-wide
// default logger if ctx doesn't carry one.
func FromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxLoggerKey).(*zerolog.Logger); ok {
		return l
	}
	return &defaultLogger
}

// Fatal logs msg at fatal level and terminates the process. It is meant for
// unrecoverable startup errors (e.g. a demo CLI failing to parse its config),
// never for connection-level errors, which must be reported through events.
func Fatal(ctx context.Context, msg string, err error) {
	e := FromContext(ctx).Fatal()
	if err != nil {
		e = e.Err(err)
	}
	e.Msg(msg)
}
