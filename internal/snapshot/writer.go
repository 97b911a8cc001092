package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/tabkeep/internal/lockstate"
)

// Writer makes Store.Save fire-and-forget. Persist records the latest
// table and returns immediately; a background goroutine writes it. Tables
// superseded before the goroutine gets to them are skipped, since only
// the latest state matters. Failures are logged, never retried: the next
// mutation writes again.
type Writer struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending lockstate.Table
	dirty   bool
	saves   int
	fails   int

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithSaveTimeout bounds each Save call. Default: 5s.
func WithSaveTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.timeout = d }
}

// WithWriterLogger sets a custom logger.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// NewWriter starts the background goroutine. Call Close to flush and stop.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:   store,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	go w.loop()
	return w
}

// Persist implements lockstate.Persister. Never blocks on I/O.
func (w *Writer) Persist(t lockstate.Table) {
	w.mu.Lock()
	w.pending = t
	w.dirty = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stats returns the number of completed and failed saves.
func (w *Writer) Stats() (saves, fails int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saves, w.fails
}

// Close writes anything still pending and stops the goroutine. Later
// calls wait for the same stop.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	<-w.done
	return nil
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			w.flush()
			return
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	t := w.pending
	w.pending = nil
	w.dirty = false
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	err := w.store.Save(ctx, t)

	w.mu.Lock()
	if err != nil {
		w.fails++
	} else {
		w.saves++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("snapshot: save failed, in-memory table stays authoritative",
			"records", len(t), "error", err)
		return
	}
	w.logger.Debug("snapshot: saved", "records", len(t))
}
