package pinstay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/tabkeep/pinstay/host"
	"github.com/hazyhaar/tabkeep/shield"
)

// HTTPOptions configures the operator API.
type HTTPOptions struct {
	TokenHash string       // bcrypt hash of the bearer token; empty = open
	MCP       http.Handler // mounted at /mcp when set
}

// Handler returns the operator HTTP API.
func (e *Engine) Handler(opts HTTPOptions) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(e.logger, opts.TokenHash, "/healthz") {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Status())
		})
		r.Get("/locks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Locks())
		})
		r.Get("/events", e.handleEvents)
		r.Post("/tabs/{id}/pin", e.handleSetPinned(true))
		r.Post("/tabs/{id}/unpin", e.handleSetPinned(false))
	})

	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
		r.Handle("/mcp/*", opts.MCP)
	}
	return r
}

func (e *Engine) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := e.Events(r.Context(), limit)
	if errors.Is(err, ErrNoHistory) {
		writeError(w, http.StatusNotImplemented, err)
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("pinstay: read journal", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (e *Engine) handleSetPinned(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("tab id must be an integer"))
			return
		}
		err = e.SetPinned(r.Context(), host.TabID(id), pinned)
		switch {
		case errors.Is(err, host.ErrNotPinnable):
			writeError(w, http.StatusNotImplemented, err)
		case errors.Is(err, host.ErrNoTab):
			writeError(w, http.StatusNotFound, err)
		case err != nil:
			shield.GetLogger(r.Context()).Warn("pinstay: set pinned failed", "tab", id, "error", err)
			writeError(w, http.StatusBadGateway, err)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"tab_id": id, "pinned": pinned})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
