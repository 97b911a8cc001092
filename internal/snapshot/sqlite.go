package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/tabkeep/dbopen"
	"github.com/hazyhaar/tabkeep/internal/lockstate"
)

// Schema for the key/value state table.
const Schema = `
CREATE TABLE IF NOT EXISTS pinstay_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps the lock table as one row of pinstay_state.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore applies Schema to db and returns a store for Key.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("snapshot: schema: %w", err)
	}
	return &SQLiteStore{db: db, key: Key}, nil
}

// Load returns the stored table. No row is an empty table without error.
func (s *SQLiteStore) Load(ctx context.Context) (lockstate.Table, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM pinstay_state WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return make(lockstate.Table), nil
	}
	if err != nil {
		return make(lockstate.Table), fmt.Errorf("snapshot: load: %w", err)
	}
	return Decode([]byte(value))
}

// Save replaces the stored table with t.
func (s *SQLiteStore) Save(ctx context.Context, t lockstate.Table) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO pinstay_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	return nil
}

// Existed reports whether a table was ever saved. Used to detect first run.
func (s *SQLiteStore) Existed(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pinstay_state WHERE key = ?`, s.key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("snapshot: probe: %w", err)
	}
	return n > 0, nil
}
