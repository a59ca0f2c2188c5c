package transport

import "context"

type requestIDContextKey struct{}

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// WithRequestID pins the correlation id sent on requests made with ctx.
// Without it the client generates a fresh UUID per request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the id attached by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
