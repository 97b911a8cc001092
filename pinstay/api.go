package pinstay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// ErrNoHistory is returned by Events when no journal is configured.
var ErrNoHistory = errors.New("pinstay: journal not configured")

// Status summarises the engine for operators.
type Status struct {
	Locks        int       `json:"locks"`
	ShuttingDown bool      `json:"shutting_down"`
	StartedAt    time.Time `json:"started_at"`
}

// Lock is one row of the lock table.
type Lock struct {
	TabID  host.TabID `json:"tab_id"`
	Domain string     `json:"domain"`
	URL    string     `json:"url"`
}

// Status reports the current engine state.
func (e *Engine) Status() Status {
	return Status{
		Locks:        e.reg.Len(),
		ShuttingDown: e.ShuttingDown(),
		StartedAt:    e.StartedAt(),
	}
}

// Locks lists the lock table ordered by tab id.
func (e *Engine) Locks() []Lock {
	t := e.reg.Snapshot()
	out := make([]Lock, 0, len(t))
	for _, id := range t.IDs() {
		out = append(out, Lock{TabID: id, Domain: t[id].Domain, URL: t[id].URL})
	}
	return out
}

// Events returns recent journal entries, newest first.
func (e *Engine) Events(ctx context.Context, limit int) ([]journal.Entry, error) {
	if e.history == nil {
		return nil, ErrNoHistory
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return e.history.Recent(ctx, limit)
}

// SetPinned pins or unpins a tab through the host. The lock follows from
// the TabUpdated event the host emits, not from this call.
func (e *Engine) SetPinned(ctx context.Context, id host.TabID, pinned bool) error {
	p, ok := e.host.(host.Pinner)
	if !ok {
		return host.ErrNotPinnable
	}
	var err error
	if pinned {
		err = p.Pin(ctx, id)
	} else {
		err = p.Unpin(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("pinstay: set pinned %d: %w", id, err)
	}
	return nil
}
