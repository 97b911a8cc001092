package pinstay

import (
	"github.com/hazyhaar/tabkeep/internal/domain"
	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/internal/lockstate"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// handleTabUpdated locks a newly pinned tab and unlocks an unpinned one.
// Anything else, including repeats, is a no-op.
func (e *Engine) handleTabUpdated(t host.Tab) {
	_, locked := e.reg.Get(t.ID)
	switch {
	case t.Pinned && !locked:
		e.lock(t, journal.KindLock)
	case !t.Pinned && locked:
		if rec, ok := e.reg.Delete(t.ID); ok {
			e.logger.Info("pinstay: unlocked tab", "tab", t.ID, "domain", rec.Domain)
			e.record(journal.Entry{Kind: journal.KindUnlock, TabID: t.ID, Domain: rec.Domain, URL: rec.URL})
		}
	}
}

// lock inserts a record for a pinned tab whose URL resolves. Unresolvable
// tabs stay untracked.
func (e *Engine) lock(t host.Tab, kind journal.Kind) bool {
	d, err := domain.Resolve(t.URL)
	if err != nil {
		e.logger.Debug("pinstay: pinned tab left untracked", "tab", t.ID, "url", t.URL, "error", err)
		return false
	}
	if !e.reg.Insert(t.ID, lockstate.Record{Domain: d, URL: t.URL}) {
		return false
	}
	e.logger.Info("pinstay: locked tab", "tab", t.ID, "domain", d, "url", t.URL)
	e.record(journal.Entry{Kind: kind, TabID: t.ID, Domain: d, URL: t.URL})
	return true
}
