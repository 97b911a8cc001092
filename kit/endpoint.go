// Package kit holds the transport-neutral endpoint shape shared by the
// HTTP and MCP operator surfaces.
package kit

import "context"

// Endpoint is one operator operation, independent of the transport it is
// reached through.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
