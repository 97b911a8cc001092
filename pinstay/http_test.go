package pinstay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tabkeep/dbopen"
	"github.com/hazyhaar/tabkeep/internal/hosttest"
	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/internal/lockstate"
	"github.com/hazyhaar/tabkeep/pinstay/host"
	"github.com/hazyhaar/tabkeep/shield"
)

var testImpl = &mcp.Implementation{Name: "pinstay-test", Version: "0.1.0"}

// testEngine returns an engine over a fake host with a real journal.
func testEngine(t *testing.T) (*Engine, *hosttest.Host) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(journal.Schema))
	j := journal.New(db, journal.WithFlushInterval(time.Hour))
	t.Cleanup(func() { j.Close() })

	h := hosttest.New()
	e := New(Options{
		Host:        h,
		Registry:    lockstate.NewRegistry(nil, nil),
		Journal:     j,
		History:     j,
		NotifyDelay: time.Millisecond,
	})
	t.Cleanup(e.Wait)
	return e, h
}

func pinTab(e *Engine, h *hosttest.Host, id host.TabID, url string) {
	tab := h.AddTab(host.Tab{ID: id, URL: url, Pinned: true})
	e.Dispatch(context.Background(), host.TabUpdated{Tab: tab})
}

func doJSON(t *testing.T, h http.Handler, method, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestHTTP_HealthAndStatus(t *testing.T) {
	e, h := testEngine(t)
	pinTab(e, h, 3, "https://a.example/")
	srv := e.Handler(HTTPOptions{})

	var health map[string]string
	if code := doJSON(t, srv, http.MethodGet, "/healthz", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("healthz = %d %v", code, health)
	}

	var st Status
	if code := doJSON(t, srv, http.MethodGet, "/api/status", &st); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if st.Locks != 1 || st.ShuttingDown {
		t.Fatalf("status = %+v", st)
	}
}

func TestHTTP_LocksSorted(t *testing.T) {
	e, h := testEngine(t)
	pinTab(e, h, 9, "https://b.example/")
	pinTab(e, h, 2, "https://a.example/x")

	var locks []Lock
	doJSON(t, e.Handler(HTTPOptions{}), http.MethodGet, "/api/locks", &locks)
	if len(locks) != 2 || locks[0].TabID != 2 || locks[1].TabID != 9 {
		t.Fatalf("locks = %+v", locks)
	}
	if locks[0].URL != "https://a.example/x" || locks[0].Domain != "a.example" {
		t.Fatalf("lock = %+v", locks[0])
	}
}

func TestHTTP_Events(t *testing.T) {
	e, h := testEngine(t)
	pinTab(e, h, 1, "https://a.example/")
	e.Dispatch(context.Background(), host.BeforeNavigate{TabID: 1, URL: "https://b.example/"})

	var entries []journal.Entry
	if code := doJSON(t, e.Handler(HTTPOptions{}), http.MethodGet, "/api/events?limit=1", &entries); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindRevert {
		t.Fatalf("entries = %+v", entries)
	}

	if code := doJSON(t, e.Handler(HTTPOptions{}), http.MethodGet, "/api/events?limit=x", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", code)
	}
}

func TestHTTP_PinUnpin(t *testing.T) {
	e, h := testEngine(t)
	h.AddTab(host.Tab{ID: 4, URL: "https://a.example/"})
	srv := e.Handler(HTTPOptions{})

	if code := doJSON(t, srv, http.MethodPost, "/api/tabs/4/pin", nil); code != http.StatusOK {
		t.Fatalf("pin code = %d", code)
	}
	// The host reports the change as an event; the engine locks on it.
	e.Dispatch(context.Background(), <-h.Events())
	if _, ok := e.Registry().Get(4); !ok {
		t.Fatal("tab not locked after pin")
	}

	if code := doJSON(t, srv, http.MethodPost, "/api/tabs/4/unpin", nil); code != http.StatusOK {
		t.Fatalf("unpin code = %d", code)
	}
	e.Dispatch(context.Background(), <-h.Events())
	if e.Registry().Len() != 0 {
		t.Fatal("lock survived unpin")
	}

	if code := doJSON(t, srv, http.MethodPost, "/api/tabs/99/pin", nil); code != http.StatusNotFound {
		t.Fatalf("unknown tab code = %d", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/api/tabs/x/pin", nil); code != http.StatusBadRequest {
		t.Fatalf("bad id code = %d", code)
	}
}

// noPinHost hides the fake's Pinner implementation.
type noPinHost struct{ host.Host }

func TestHTTP_PinUnsupported(t *testing.T) {
	e := New(Options{Host: noPinHost{hosttest.New()}})
	if code := doJSON(t, e.Handler(HTTPOptions{}), http.MethodPost, "/api/tabs/1/pin", nil); code != http.StatusNotImplemented {
		t.Fatalf("code = %d, want 501", code)
	}
	if code := doJSON(t, e.Handler(HTTPOptions{}), http.MethodGet, "/api/events", nil); code != http.StatusNotImplemented {
		t.Fatalf("events without journal = %d, want 501", code)
	}
}

func TestHTTP_TokenAuth(t *testing.T) {
	e, _ := testEngine(t)
	hash, err := shield.HashToken("letmein")
	if err != nil {
		t.Fatal(err)
	}
	srv := e.Handler(HTTPOptions{TokenHash: hash})

	if code := doJSON(t, srv, http.MethodGet, "/api/locks", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", code)
	}
	if code := doJSON(t, srv, http.MethodGet, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz with auth on = %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/locks", nil)
	req.Header.Set("Authorization", "Bearer letmein")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token = %d", rec.Code)
	}
}

// --- MCP ---

func mcpSession(t *testing.T) (*Engine, *hosttest.Host, *mcp.ClientSession) {
	t.Helper()
	e, h := testEngine(t)

	srv := mcp.NewServer(testImpl, nil)
	e.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return e, h, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_LocksAndStatus(t *testing.T) {
	e, h, session := mcpSession(t)
	pinTab(e, h, 5, "https://docs.example/guide")

	text, isErr := callTool(t, session, "pinstay_locks", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var locks []Lock
	if err := json.Unmarshal([]byte(text), &locks); err != nil {
		t.Fatal(err)
	}
	if len(locks) != 1 || locks[0].Domain != "docs.example" {
		t.Fatalf("locks = %+v", locks)
	}

	text, _ = callTool(t, session, "pinstay_status", map[string]any{})
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if st.Locks != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestMCP_PinAndEvents(t *testing.T) {
	e, h, session := mcpSession(t)
	h.AddTab(host.Tab{ID: 8, URL: "https://a.example/"})

	if text, isErr := callTool(t, session, "pinstay_pin", map[string]any{"tab_id": 8}); isErr {
		t.Fatalf("pin: %s", text)
	}
	e.Dispatch(context.Background(), <-h.Events())

	text, isErr := callTool(t, session, "pinstay_events", map[string]any{"limit": 5})
	if isErr {
		t.Fatalf("events: %s", text)
	}
	var entries []journal.Entry
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindLock || entries[0].TabID != 8 {
		t.Fatalf("entries = %+v", entries)
	}

	if _, isErr := callTool(t, session, "pinstay_unpin", map[string]any{"tab_id": 404}); !isErr {
		t.Fatal("unpin of unknown tab should be a tool error")
	}
}
