// Package dbopen opens the SQLite files pinstay keeps (lock snapshot,
// pinned targets, journal). Every handle gets the same pragmas, and the
// schemas passed with WithSchema are applied in one transaction, so a
// half-created database is never left behind.
//
//	db, err := dbopen.Open("data/state.db", dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
//
// Tests use OpenMemory, which closes the handle on cleanup.
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // registers "sqlite"
)

const memory = ":memory:"

type pragma struct{ name, value string }

type config struct {
	pragmas  []pragma
	schemas  []string
	mkdirAll bool
}

// Option customises Open.
type Option func(*config)

// WithPragma sets or overrides a pragma. Defaults: journal_mode=WAL,
// busy_timeout=10000, synchronous=NORMAL, foreign_keys=ON.
func WithPragma(name, value string) Option {
	return func(c *config) {
		for i := range c.pragmas {
			if c.pragmas[i].name == name {
				c.pragmas[i].value = value
				return
			}
		}
		c.pragmas = append(c.pragmas, pragma{name, value})
	}
}

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues DDL to run once the pragmas are set.
func WithSchema(ddl string) Option { return func(c *config) { c.schemas = append(c.schemas, ddl) } }

// Open opens the SQLite database at path.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{pragmas: []pragma{
		{"journal_mode", "WAL"},
		{"busy_timeout", "10000"},
		{"synchronous", "NORMAL"},
		{"foreign_keys", "ON"},
	}}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: %s: %w", path, err)
	}
	if err := setup(db, &cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: %s: %w", path, err)
	}
	return db, nil
}

func setup(db *sql.DB, cfg *config) error {
	for _, p := range cfg.pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if len(cfg.schemas) == 0 {
		return db.Ping()
	}
	return RunTx(context.Background(), db, func(tx *sql.Tx) error {
		for _, ddl := range cfg.schemas {
			if _, err := tx.Exec(ddl); err != nil {
				return fmt.Errorf("schema: %w", err)
			}
		}
		return nil
	})
}

// OpenMemory opens a private in-memory database for a test. It is limited
// to one connection, since each connection to ":memory:" is its own
// database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
