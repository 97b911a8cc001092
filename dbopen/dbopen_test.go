package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func pragmaInt(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var v int
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestOpen_DefaultPragmas(t *testing.T) {
	db := OpenMemory(t)
	if v := pragmaInt(t, db, "foreign_keys"); v != 1 {
		t.Errorf("foreign_keys = %d, want 1", v)
	}
	if v := pragmaInt(t, db, "busy_timeout"); v != 10_000 {
		t.Errorf("busy_timeout = %d, want 10000", v)
	}
}

func TestOpen_WithPragmaOverrides(t *testing.T) {
	db := OpenMemory(t, WithPragma("busy_timeout", "250"))
	if v := pragmaInt(t, db, "busy_timeout"); v != 250 {
		t.Errorf("busy_timeout = %d, want 250", v)
	}
}

func TestOpen_SchemaAndMkdir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "pinstay", "state.db")
	db, err := Open(path, WithMkdirAll(), WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestOpen_SchemaIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	_, err := Open(path,
		WithSchema(`CREATE TABLE good (id INTEGER)`),
		WithSchema(`CREATE TABLE broken (`),
	)
	if err == nil {
		t.Fatal("want error for broken schema")
	}

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'good'`).Scan(&n)
	if n != 0 {
		t.Fatal("first schema survived a failed open")
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("SQLITE_BUSY"), true},
		{fmt.Errorf("save: %w", errors.New("database is locked")), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	busy := errors.New("database is locked")

	t.Run("succeeds after busy", func(t *testing.T) {
		calls := 0
		v, err := retry(context.Background(), func() (int, error) {
			calls++
			if calls < 2 {
				return 0, busy
			}
			return 7, nil
		})
		if err != nil || v != 7 || calls != 2 {
			t.Fatalf("v=%d err=%v calls=%d", v, err, calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		_, err := retry(context.Background(), func() (int, error) {
			calls++
			return 0, busy
		})
		if !errors.Is(err, busy) || calls != Attempts {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("other errors are final", func(t *testing.T) {
		calls := 0
		other := errors.New("constraint failed")
		_, err := retry(context.Background(), func() (int, error) {
			calls++
			return 0, other
		})
		if !errors.Is(err, other) || calls != 1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("context ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		_, err := retry(ctx, func() (int, error) { return 0, busy })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
		if time.Since(start) >= Backoff {
			t.Fatal("waited despite cancelled context")
		}
	})
}

func TestRunTx_Rollback(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE rb (id TEXT PRIMARY KEY)`))

	sentinel := errors.New("rollback me")
	err := RunTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO rb (id) VALUES ('1')`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunTx error = %v, want sentinel", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM rb`).Scan(&count)
	if count != 0 {
		t.Fatalf("count = %d, want 0 after rollback", count)
	}
}

func TestExec(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE ex (id TEXT PRIMARY KEY)`))

	if _, err := Exec(context.Background(), db, `INSERT INTO ex (id) VALUES (?)`, "1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM ex`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
