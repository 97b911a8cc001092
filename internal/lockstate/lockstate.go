// Package lockstate holds the lock table: which pinned tab is locked to
// which domain, and the origin URL it is restored to.
//
// The Registry is the authoritative copy while the process lives. Every
// change is handed to a Persister before the mutating call returns; the
// persisted copy is only a head start for the next process, which
// re-derives the truth from the live host.
package lockstate

import (
	"context"
	"sort"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Record is the lock of one tab.
type Record struct {
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// Table maps a tab to its lock.
type Table map[host.TabID]Record

// Clone returns an independent copy of t.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for id, rec := range t {
		out[id] = rec
	}
	return out
}

// IDs returns the tab ids of t in ascending order.
func (t Table) IDs() []host.TabID {
	ids := make([]host.TabID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Persister receives a copy of the table after every change. Persist must
// not block; failures are the Persister's to log.
type Persister interface {
	Persist(t Table)
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(Table)

func (f PersistFunc) Persist(t Table) { f(t) }

// Loader reads the last persisted table.
type Loader interface {
	Load(ctx context.Context) (Table, error)
}

type nopPersister struct{}

func (nopPersister) Persist(Table) {}
