package pinstay

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tabkeep/kit"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// RegisterMCP registers the pinstay tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	logged := kit.Chain(e.logCalls)

	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "pinstay_status",
		Description: "Number of locked tabs, whether the browser is shutting down, and when the engine last started.",
		InputSchema: inputSchema(nil, nil),
	}, logged(func(context.Context, any) (any, error) {
		return e.Status(), nil
	}))

	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "pinstay_locks",
		Description: "List pinned tabs and the domain and origin URL each is locked to.",
		InputSchema: inputSchema(nil, nil),
	}, logged(func(context.Context, any) (any, error) {
		return e.Locks(), nil
	}))

	kit.RegisterMCPTool[eventsRequest](srv, &mcp.Tool{
		Name:        "pinstay_events",
		Description: "Recent lock events (lock, unlock, revert, recreate, release), newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 100)"},
		}, nil),
	}, logged(func(ctx context.Context, req any) (any, error) {
		return e.Events(ctx, req.(*eventsRequest).Limit)
	}))

	for _, pinned := range []bool{true, false} {
		name, desc := "pinstay_pin", "Pin a tab; it becomes locked to its current domain."
		if !pinned {
			name, desc = "pinstay_unpin", "Unpin a tab; its lock is released."
		}
		kit.RegisterMCPTool[tabRequest](srv, &mcp.Tool{
			Name:        name,
			Description: desc,
			InputSchema: inputSchema(map[string]any{
				"tab_id": map[string]any{"type": "integer", "description": "Tab id as listed by pinstay_locks or the browser adapter"},
			}, []string{"tab_id"}),
		}, logged(func(ctx context.Context, req any) (any, error) {
			id := req.(*tabRequest).TabID
			if err := e.SetPinned(ctx, id, pinned); err != nil {
				return nil, err
			}
			return map[string]any{"tab_id": id, "pinned": pinned}, nil
		}))
	}
}

// MCPHandler serves srv over streamable HTTP, for mounting under /mcp.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

type eventsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type tabRequest struct {
	TabID host.TabID `json:"tab_id"`
}

func (e *Engine) logCalls(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		e.logger.Debug("pinstay: operator call", "transport", kit.GetTransport(ctx),
			"duration", time.Since(start), "error", err)
		return resp, err
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
