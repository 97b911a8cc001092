// Package shield provides the HTTP middleware in front of the pinstay
// operator API: security headers, body limits, request tracing and bearer
// token auth.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger, tokenHash, "/healthz") {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// APIStack returns the standard middleware stack for a local JSON API.
// Order: HeadToGet → SecurityHeaders → MaxBody → TraceID → BearerAuth.
// Paths in public skip auth. An empty tokenHash disables auth.
func APIStack(logger *slog.Logger, tokenHash string, public ...string) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		TraceID(logger),
		BearerAuth(tokenHash, public...),
	}
}
