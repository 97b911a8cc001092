package snapshot

import (
	"context"
	"sync"

	"github.com/hazyhaar/tabkeep/internal/lockstate"
)

// MemoryStore keeps the encoded table in process memory. It survives an
// Engine restart inside one process, not a process restart.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	err  error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// FailWith makes every later Save and Load return err (nil clears it).
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStore) Load(_ context.Context) (lockstate.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return make(lockstate.Table), m.err
	}
	return Decode(m.data)
}

func (m *MemoryStore) Save(_ context.Context, t lockstate.Table) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data = data
	return nil
}

// Raw replaces the stored bytes, bypassing Encode.
func (m *MemoryStore) Raw(data []byte) {
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
}
