package lockstate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Registry is the in-memory lock table. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	locks   Table
	persist Persister
	logger  *slog.Logger
}

// NewRegistry returns an empty registry. A nil persister disables
// persistence.
func NewRegistry(p Persister, logger *slog.Logger) *Registry {
	if p == nil {
		p = nopPersister{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{locks: make(Table), persist: p, logger: logger}
}

// Get returns the lock of id as of now.
func (r *Registry) Get(id host.TabID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.locks[id]
	return rec, ok
}

// Len returns the number of locked tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

// Snapshot returns a copy of the table.
func (r *Registry) Snapshot() Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locks.Clone()
}

// Insert locks id to rec. It refuses records without a domain and never
// overwrites an existing lock; it reports whether the table changed.
func (r *Registry) Insert(id host.TabID, rec Record) bool {
	if rec.Domain == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[id]; ok {
		return false
	}
	r.locks[id] = rec
	r.persistLocked()
	return true
}

// Delete removes the lock of id and reports whether one existed.
func (r *Registry) Delete(id host.TabID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.locks[id]
	if !ok {
		return Record{}, false
	}
	delete(r.locks, id)
	r.persistLocked()
	return rec, true
}

// Transfer moves the lock of from to to in one step: no reader observes a
// state where neither id holds it. It fails when from has no lock.
// An existing lock on to is replaced, since to was just assigned by the
// host and any record under it is stale.
func (r *Registry) Transfer(from, to host.TabID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.locks[from]
	if !ok {
		return Record{}, false
	}
	delete(r.locks, from)
	r.locks[to] = rec
	r.persistLocked()
	return rec, true
}

// Merge adds the well-formed records of t whose id is not locked yet and
// returns how many were added. Existing locks win.
func (r *Registry) Merge(t Table) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range t {
		if rec.Domain == "" {
			continue
		}
		if _, ok := r.locks[id]; ok {
			continue
		}
		r.locks[id] = rec
		n++
	}
	if n > 0 {
		r.persistLocked()
	}
	return n
}

// Retain drops every lock whose id is not in keep and returns the dropped
// records.
func (r *Registry) Retain(keep map[host.TabID]bool) Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := make(Table)
	for id, rec := range r.locks {
		if !keep[id] {
			dropped[id] = rec
			delete(r.locks, id)
		}
	}
	if len(dropped) > 0 {
		r.persistLocked()
	}
	return dropped
}

// Restore loads the persisted table and merges it in. A failing or
// malformed load degrades to an empty merge.
func (r *Registry) Restore(ctx context.Context, l Loader) int {
	t, err := l.Load(ctx)
	if err != nil {
		r.logger.Warn("lockstate: load snapshot failed, starting empty", "error", err)
	}
	if len(t) == 0 {
		return 0
	}
	n := r.Merge(t)
	r.logger.Info("lockstate: restored snapshot", "records", len(t), "merged", n)
	return n
}

// persistLocked hands a copy to the persister. Called with mu held so
// successive snapshots reach the persister in mutation order.
func (r *Registry) persistLocked() {
	r.persist.Persist(r.locks.Clone())
}
