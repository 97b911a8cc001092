package notify

import (
	"context"
	"log/slog"
)

// Router fans a notice out to every notifier. One failing notifier does not
// stop the others; failures are logged and the first one is returned.
type Router struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, notifiers ...Notifier) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{notifiers: notifiers, logger: logger}
}

func (r *Router) Notify(ctx context.Context, n Notice) error {
	var firstErr error
	for _, nt := range r.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			r.logger.Warn("notify: delivery failed", "kind", n.Kind, "tab", n.TabID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, nt := range r.notifiers {
		if err := nt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
