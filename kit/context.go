package kit

import "context"

type ctxKey int

const (
	transportKey ctxKey = iota
	traceIDKey
)

// WithTransport records which surface ("http" or "mcp") a call came in on.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// GetTransport returns the surface of the call, "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "http"
}

// WithTraceID attaches the request trace id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID returns the trace id, or "" outside a traced request.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}
