package domain

import "context"

// traceIDKey is a context key type for carrying the correlation id.
type traceIDKey struct{}

// WithTraceID returns a context carrying the correlation id generated at
// ingress, threaded through every subsequent call of the flow.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFrom extracts the correlation id from the context, or "" when the
// context is not part of a traced flow.
func TraceIDFrom(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok {
		return traceID
	}
	return ""
}
