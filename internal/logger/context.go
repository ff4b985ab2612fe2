package logger

import "context"

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped fields that the *Ctx logging functions
// prepend to every log line made while handling one RPC call: trace
// correlation IDs and the two fields that identify the call itself.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID, if a span is active
	SpanID    string // OpenTelemetry span ID, if a span is active
	Procedure string // RPC procedure name: GetSessionToken, GetAccessToken, etc.
	ClientIP  string // caller's address, from the gRPC peer
}

// WithContext returns a new context carrying lc for the *Ctx functions to
// pick up via FromContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext attached to ctx, or nil if none was
// attached (plain Debug/Info/Warn/Error calls never look for one).
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}
