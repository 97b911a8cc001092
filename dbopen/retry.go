package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
)

// Attempts is how many times a busy write is tried before its error is
// returned. Waits grow by Backoff per attempt.
const (
	Attempts = 3
	Backoff  = 100 * time.Millisecond
)

// Primary result codes, from sqlite3.h.
const (
	codeBusy   = 5
	codeLocked = 6
)

// IsBusy reports whether err means another connection holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == codeBusy || code == codeLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "is locked")
}

// retry runs op until it succeeds, fails with a non-busy error, runs out
// of attempts or ctx ends.
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op()
		if err == nil || !IsBusy(err) || attempt == Attempts {
			return v, err
		}
		t := time.NewTimer(time.Duration(attempt) * Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}

// Exec runs a single statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retry(ctx, func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}

// RunTx runs fn in a transaction and commits it, rolling back when fn
// fails. The whole transaction is retried while the database is busy, so
// fn must be safe to run more than once.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry(ctx, func() (struct{}, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		return struct{}{}, tx.Commit()
	})
	return err
}
