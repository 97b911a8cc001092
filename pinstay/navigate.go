package pinstay

import (
	"context"

	"github.com/hazyhaar/tabkeep/internal/domain"
	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/internal/notify"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// handleBeforeNavigate reverts a locked tab that is leaving its domain.
// Every doubt resolves to letting the navigation through.
func (e *Engine) handleBeforeNavigate(ctx context.Context, ev host.BeforeNavigate) {
	if ev.FrameID != 0 {
		return
	}
	if _, ok := e.reg.Get(ev.TabID); !ok {
		return
	}

	tab, err := e.host.GetTab(ctx, ev.TabID)
	if err != nil {
		e.logger.Warn("pinstay: get tab failed", "tab", ev.TabID, "error", err)
		return
	}
	if !tab.Pinned {
		return
	}
	// The registry may have changed while the host answered.
	rec, ok := e.reg.Get(ev.TabID)
	if !ok {
		return
	}

	dest, err := domain.Resolve(ev.URL)
	if err != nil {
		e.logger.Debug("pinstay: navigation target unresolvable, allowing", "tab", ev.TabID, "url", ev.URL)
		return
	}
	if dest == rec.Domain {
		return
	}

	if err := e.host.UpdateTab(ctx, ev.TabID, rec.URL); err != nil {
		e.logger.Warn("pinstay: revert failed", "tab", ev.TabID, "url", rec.URL, "error", err)
		return
	}
	e.logger.Info("pinstay: reverted navigation", "tab", ev.TabID, "domain", rec.Domain, "blocked", dest)
	e.record(journal.Entry{Kind: journal.KindRevert, TabID: ev.TabID, Domain: rec.Domain, URL: rec.URL, Detail: ev.URL})

	e.notifyLater(notify.Notice{
		Kind:    notify.KindRevert,
		TabID:   ev.TabID,
		Domain:  rec.Domain,
		Message: e.opts.RevertMessage,
	}, e.opts.NotifyDelay)
}
