package pinstay

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Startup restores the durable snapshot and reconciles it against the live
// pinned tabs. Run calls it; tests and embedders that drive Dispatch
// themselves call it once before the first event.
func (e *Engine) Startup(ctx context.Context) {
	e.startup(ctx, true)
}

// startup clears the shutdown flag, optionally merges the snapshot, then
// makes the table match the host: every resolvable pinned tab is locked and
// every lock whose tab is not pinned is dropped. A failing pinned query
// leaves the table as restored.
func (e *Engine) startup(ctx context.Context, restore bool) {
	e.shuttingDown.Store(false)
	defer e.startedAt.Store(time.Now().UnixMilli())

	if restore && e.store != nil {
		if n := e.reg.Restore(ctx, e.store); n > 0 {
			e.record(journal.Entry{Kind: journal.KindRestore, Detail: fmt.Sprintf("%d records", n)})
		}
	}

	pinned, err := e.host.QueryPinned(ctx)
	if err != nil {
		e.logger.Warn("pinstay: query pinned tabs failed, keeping restored locks", "error", err, "locks", e.reg.Len())
		return
	}

	keep := make(map[host.TabID]bool, len(pinned))
	added := 0
	for _, t := range pinned {
		keep[t.ID] = true
		if _, ok := e.reg.Get(t.ID); ok {
			continue
		}
		if e.lock(t, journal.KindReconcile) {
			added++
		}
	}

	dropped := e.reg.Retain(keep)
	for id, rec := range dropped {
		e.record(journal.Entry{Kind: journal.KindUnlock, TabID: id, Domain: rec.Domain, URL: rec.URL, Detail: "not pinned at start-up"})
	}

	e.logger.Info("pinstay: reconciled", "pinned", len(pinned), "added", added, "dropped", len(dropped), "locks", e.reg.Len())
}

// handleInstalled runs on first use: same reconciliation as a start-up,
// then the welcome page if one is configured.
func (e *Engine) handleInstalled(ctx context.Context) {
	e.startup(ctx, false)
	if e.opts.WelcomeURL == "" {
		return
	}
	if _, err := e.host.CreateTab(ctx, host.CreateOptions{URL: e.opts.WelcomeURL, Active: true}); err != nil {
		e.logger.Warn("pinstay: open welcome page failed", "url", e.opts.WelcomeURL, "error", err)
	}
}
