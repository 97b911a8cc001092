// Package snapshot persists the lock table between process lifetimes.
//
// The stored copy is advisory: a crash between a mutation and its write
// leaves it stale, and start-up reconciliation against the live browser
// repairs that. Loading therefore never fails hard (a missing or malformed
// value is an empty table) and saving is fire-and-forget through Writer.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hazyhaar/tabkeep/internal/lockstate"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Key is the well-known key the lock table is stored under.
const Key = "pinstay.locks"

// Store reads and writes the persisted lock table.
type Store interface {
	Load(ctx context.Context) (lockstate.Table, error)
	Save(ctx context.Context, t lockstate.Table) error
}

// Encode serialises t as a JSON object keyed by the decimal tab id.
func Encode(t lockstate.Table) ([]byte, error) {
	m := make(map[string]lockstate.Record, len(t))
	for id, rec := range t {
		m[strconv.Itoa(int(id))] = rec
	}
	return json.Marshal(m)
}

// Decode parses data written by Encode. Entries with a non-integer key or
// an empty domain are skipped; a malformed document is an error and an
// empty table.
func Decode(data []byte) (lockstate.Table, error) {
	t := make(lockstate.Table)
	if len(data) == 0 {
		return t, nil
	}
	var m map[string]lockstate.Record
	if err := json.Unmarshal(data, &m); err != nil {
		return make(lockstate.Table), fmt.Errorf("snapshot: decode: %w", err)
	}
	for k, rec := range m {
		id, err := strconv.Atoi(k)
		if err != nil || rec.Domain == "" {
			continue
		}
		t[host.TabID(id)] = rec
	}
	return t, nil
}
