// Package journal keeps an append-only record of what the lock engine did:
// locks taken and released, navigations reverted, closed tabs recreated.
//
// Writes are buffered and flushed in batches by a background goroutine so
// the engine never waits on disk. A full buffer is flushed inline.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/tabkeep/dbopen"
	"github.com/hazyhaar/tabkeep/idgen"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Schema for the lock_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS lock_events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	tab_id      INTEGER NOT NULL,
	new_tab_id  INTEGER NOT NULL DEFAULT 0,
	domain      TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lock_events_created ON lock_events(created_at);
`

// Kind classifies a journal entry.
type Kind string

const (
	KindLock      Kind = "lock"
	KindUnlock    Kind = "unlock"
	KindRevert    Kind = "revert"
	KindRecreate  Kind = "recreate"
	KindRelease   Kind = "release"
	KindReconcile Kind = "reconcile"
	KindRestore   Kind = "restore"
)

// Entry is one journal row.
type Entry struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	TabID     host.TabID `json:"tab_id"`
	NewTabID  host.TabID `json:"new_tab_id,omitempty"`
	Domain    string     `json:"domain,omitempty"`
	URL       string     `json:"url,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Journal buffers entries and flushes them to SQLite.
type Journal struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	newID         idgen.Generator
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []Entry

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Journal.
type Option func(*Journal)

// WithBufferSize sets how many entries are held before an inline flush.
// Default: 64.
func WithBufferSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.bufferSize = n
		}
	}
}

// WithFlushInterval sets the background flush period. Default: 2s.
func WithFlushInterval(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.flushInterval = d
		}
	}
}

// WithIDGenerator overrides the entry id generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(j *Journal) { j.newID = gen }
}

// WithLogger sets the logger used for flush failures.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// New creates a Journal over db and starts its flush loop. The caller must
// have applied Schema.
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:            db,
		bufferSize:    64,
		flushInterval: 2 * time.Second,
		newID:         idgen.Prefixed("lev_", idgen.Default),
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	j.buffer = make([]Entry, 0, j.bufferSize)
	go j.flushLoop()
	return j
}

// Record queues an entry. ID and CreatedAt are filled in when empty.
func (j *Journal) Record(e Entry) {
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buffer = append(j.buffer, e)
	if len(j.buffer) >= j.bufferSize {
		j.flushLocked()
	}
}

// Flush writes everything buffered so far.
func (j *Journal) Flush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.flushLocked()
}

// Recent returns the newest entries first, at most limit (all when
// limit <= 0). Buffered entries are flushed before reading.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.Flush()

	q := `SELECT id, kind, tab_id, new_tab_id, domain, url, detail, created_at
	      FROM lock_events ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var tab, newTab, ms int64
		if err := rows.Scan(&e.ID, &kind, &tab, &newTab, &e.Domain, &e.URL, &e.Detail, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.TabID = host.TabID(tab)
		e.NewTabID = host.TabID(newTab)
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays and returns the count
// removed.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := dbopen.Exec(ctx, j.db, "DELETE FROM lock_events WHERE created_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes remaining entries and stops the background goroutine.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		close(j.stop)
		<-j.done
	})
	return nil
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			j.Flush()
			return
		case <-ticker.C:
			j.Flush()
		}
	}
}

func (j *Journal) flushLocked() {
	if len(j.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO lock_events
			(id, kind, tab_id, new_tab_id, domain, url, detail, created_at)
			VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range j.buffer {
			if _, err := stmt.ExecContext(ctx, e.ID, string(e.Kind), int64(e.TabID), int64(e.NewTabID),
				e.Domain, e.URL, e.Detail, e.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("insert %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		j.logger.Error("journal: flush", "error", err, "dropped", len(j.buffer))
	}
	j.buffer = j.buffer[:0]
}
