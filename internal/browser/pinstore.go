package browser

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/tabkeep/dbopen"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Schema for the pinned_targets table. CDP has no pinned flag, so the
// adapter keeps its own, keyed by the tab id it hands out.
const Schema = `
CREATE TABLE IF NOT EXISTS pinned_targets (
	tab_id     INTEGER PRIMARY KEY,
	target_id  TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

type pinRow struct {
	TabID    host.TabID
	TargetID string
	URL      string
}

// PinStore persists which tabs are pinned.
type PinStore struct {
	db *sql.DB
}

// NewPinStore wraps db. The caller must have applied Schema.
func NewPinStore(db *sql.DB) *PinStore {
	return &PinStore{db: db}
}

func (s *PinStore) load(ctx context.Context) ([]pinRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tab_id, target_id, url FROM pinned_targets ORDER BY tab_id`)
	if err != nil {
		return nil, fmt.Errorf("browser: load pins: %w", err)
	}
	defer rows.Close()

	var out []pinRow
	for rows.Next() {
		var r pinRow
		var tab int64
		if err := rows.Scan(&tab, &r.TargetID, &r.URL); err != nil {
			return nil, fmt.Errorf("browser: scan pin: %w", err)
		}
		r.TabID = host.TabID(tab)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PinStore) save(ctx context.Context, r pinRow) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO pinned_targets (tab_id, target_id, url, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET target_id = excluded.target_id, url = excluded.url, updated_at = excluded.updated_at`,
		int64(r.TabID), r.TargetID, r.URL, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("browser: save pin %d: %w", r.TabID, err)
	}
	return nil
}

func (s *PinStore) delete(ctx context.Context, tab host.TabID) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM pinned_targets WHERE tab_id = ?`, int64(tab)); err != nil {
		return fmt.Errorf("browser: delete pin %d: %w", tab, err)
	}
	return nil
}
