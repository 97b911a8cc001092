package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/tabkeep/idgen"
	"github.com/hazyhaar/tabkeep/kit"
)

var newTraceID = idgen.Prefixed("req_", idgen.Default)

// TraceID tags each request with an id. The id is sent back in X-Trace-ID,
// stored with kit.WithTraceID, and attached to a per-request logger under
// LoggerKey. A nil logger means slog.Default().
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			base := logger
			if base == nil {
				base = slog.Default()
			}
			traceID := newTraceID()

			ctx := kit.WithTraceID(r.Context(), traceID)
			w.Header().Set("X-Trace-ID", traceID)

			l := base.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
