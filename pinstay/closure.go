package pinstay

import (
	"context"

	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/internal/lockstate"
	"github.com/hazyhaar/tabkeep/internal/notify"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// handleTabRemoved recreates a locked tab the user closed. During shutdown
// the close is final and the lock is released.
func (e *Engine) handleTabRemoved(ctx context.Context, ev host.TabRemoved) {
	rec, ok := e.reg.Get(ev.TabID)
	if !ok {
		rec, ok = e.fromSnapshot(ctx, ev.TabID)
		if !ok {
			e.reg.Delete(ev.TabID)
			return
		}
	}

	if ev.WindowClosing || e.shuttingDown.Load() {
		e.reg.Delete(ev.TabID)
		e.logger.Info("pinstay: released lock on shutdown", "tab", ev.TabID, "domain", rec.Domain)
		e.record(journal.Entry{Kind: journal.KindRelease, TabID: ev.TabID, Domain: rec.Domain, URL: rec.URL})
		return
	}

	if active, err := e.host.ActiveTab(ctx); err != nil {
		e.logger.Warn("pinstay: no active tab for close notice", "error", err)
	} else {
		e.notifyLater(notify.Notice{
			Kind:    notify.KindRecreate,
			TabID:   active.ID,
			Domain:  rec.Domain,
			Message: e.opts.CloseMessage,
		}, 0)
	}

	created, err := e.host.CreateTab(ctx, host.CreateOptions{
		URL:      rec.URL,
		Pinned:   true,
		Active:   true,
		WindowID: ev.WindowID,
	})
	if err != nil {
		// The old id names a tab that no longer exists.
		e.reg.Delete(ev.TabID)
		e.logger.Error("pinstay: recreate failed, lock dropped", "tab", ev.TabID, "domain", rec.Domain, "error", err)
		e.record(journal.Entry{Kind: journal.KindRelease, TabID: ev.TabID, Domain: rec.Domain, URL: rec.URL, Detail: "recreate failed: " + err.Error()})
		return
	}

	if _, moved := e.reg.Transfer(ev.TabID, created.ID); !moved {
		// Record vanished while the tab was being created; the new tab is
		// still pinned at the origin, so lock it again under its new id.
		e.reg.Insert(created.ID, rec)
	}
	e.logger.Info("pinstay: recreated closed tab", "tab", ev.TabID, "new_tab", created.ID, "domain", rec.Domain)
	e.record(journal.Entry{Kind: journal.KindRecreate, TabID: ev.TabID, NewTabID: created.ID, Domain: rec.Domain, URL: rec.URL})
}

// handleWindowRemoved marks the session as shutting down: every close from
// now until the next start-up is final.
func (e *Engine) handleWindowRemoved(ev host.WindowRemoved) {
	if !e.shuttingDown.Swap(true) {
		e.logger.Info("pinstay: window removed, closes are final", "window", ev.WindowID)
	}
}

// fromSnapshot recovers a lock missing from the live table out of the
// durable snapshot. Only a process that has not run start-up yet consults
// it; afterwards the live table is authoritative.
func (e *Engine) fromSnapshot(ctx context.Context, id host.TabID) (lockstate.Record, bool) {
	if e.store == nil || e.startedAt.Load() != 0 {
		return lockstate.Record{}, false
	}
	t, err := e.store.Load(ctx)
	if err != nil {
		return lockstate.Record{}, false
	}
	rec, ok := t[id]
	if !ok || rec.Domain == "" {
		return lockstate.Record{}, false
	}
	return rec, true
}
