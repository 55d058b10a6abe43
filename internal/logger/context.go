package logger

import (
	"context"

	"go.uber.org/zap"
)

// loggerKey keys the request-scoped logger in a context.
type loggerKey struct{}

// ContextWithLogger returns a child context carrying l. The HTTP middleware
// attaches a request-scoped logger this way so lower layers can log with the
// request id.
func ContextWithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger carried by ctx, or a nop logger when none
// was attached. Callers never need a nil check.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
