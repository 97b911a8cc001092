// Package pinstay keeps pinned browser tabs on the domain they were pinned
// to. Off-domain navigations are reverted to the tab's origin URL and a
// pinned tab closed by the user is recreated in its place; both are
// detected after the fact and corrected, since the browser cannot veto
// either.
//
// The Engine consumes host events one at a time. Every piece of state it
// acts on lives in a lockstate.Registry, which handlers re-read after each
// host call instead of carrying values across it.
package pinstay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/internal/lockstate"
	"github.com/hazyhaar/tabkeep/internal/notify"
	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Journal receives one entry per state change or enforcement.
type Journal interface {
	Record(e journal.Entry)
}

// History serves recent journal entries to the operator surface.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Options configures an Engine. Only Host is required.
type Options struct {
	Host     host.Host
	Registry *lockstate.Registry // nil = fresh registry without persistence
	Store    lockstate.Loader    // snapshot to restore from; nil = none
	Notifier notify.Notifier     // nil = no feedback
	Journal  Journal
	History  History

	NotifyDelay   time.Duration // between a revert and its notice; default 500ms
	Title         string
	Position      string
	RevertMessage string
	CloseMessage  string
	WelcomeURL    string // opened on Installed when set

	Logger *slog.Logger
}

// Engine routes host events to the pin, navigation and closure handlers.
type Engine struct {
	host     host.Host
	reg      *lockstate.Registry
	store    lockstate.Loader
	notifier notify.Notifier
	journal  Journal
	history  History
	opts     Options
	logger   *slog.Logger

	shuttingDown atomic.Bool
	startedAt    atomic.Int64 // unix millis of the last start-up
	pending      sync.WaitGroup
}

// New creates an Engine. It panics if opts.Host is nil.
func New(opts Options) *Engine {
	if opts.Host == nil {
		panic("pinstay: nil host")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = lockstate.NewRegistry(nil, opts.Logger)
	}
	if opts.NotifyDelay <= 0 {
		opts.NotifyDelay = 500 * time.Millisecond
	}
	if opts.Title == "" {
		opts.Title = "PinStay"
	}
	if opts.Position == "" {
		opts.Position = notify.BottomRight
	}
	if opts.RevertMessage == "" {
		opts.RevertMessage = "Your pinned tabs are locked to the domain they were pinned."
	}
	if opts.CloseMessage == "" {
		opts.CloseMessage = "You must unpin a tab to close it. You can unpin a tab by clicking the pin icon in the top right corner of the tab, or right clicking the tab and selecting 'Unpin'."
	}
	return &Engine{
		host:     opts.Host,
		reg:      opts.Registry,
		store:    opts.Store,
		notifier: opts.Notifier,
		journal:  opts.Journal,
		history:  opts.History,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Registry exposes the lock table, read-mostly.
func (e *Engine) Registry() *lockstate.Registry { return e.reg }

// ShuttingDown reports whether a window-removed event has been seen since
// the last start-up.
func (e *Engine) ShuttingDown() bool { return e.shuttingDown.Load() }

// StartedAt returns the time of the last start-up, zero before the first.
func (e *Engine) StartedAt() time.Time {
	ms := e.startedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Run performs start-up and then handles host events until ctx ends or the
// event channel closes. Pending notices are waited for before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.Startup(ctx)
	defer e.Wait()

	events := e.host.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				e.logger.Info("pinstay: host event stream closed")
				return nil
			}
			e.Dispatch(ctx, ev)
		}
	}
}

// Dispatch handles a single event to completion.
func (e *Engine) Dispatch(ctx context.Context, ev host.Event) {
	e.logger.Debug("pinstay: event", "event", host.Name(ev))
	switch ev := ev.(type) {
	case host.TabUpdated:
		e.handleTabUpdated(ev.Tab)
	case host.BeforeNavigate:
		e.handleBeforeNavigate(ctx, ev)
	case host.TabRemoved:
		e.handleTabRemoved(ctx, ev)
	case host.WindowRemoved:
		e.handleWindowRemoved(ev)
	case host.Started:
		e.startup(ctx, false)
	case host.Installed:
		e.handleInstalled(ctx)
	default:
		e.logger.Warn("pinstay: unknown event", "event", host.Name(ev))
	}
}

// Wait blocks until every scheduled notice has been delivered or failed.
func (e *Engine) Wait() { e.pending.Wait() }

func (e *Engine) record(entry journal.Entry) {
	if e.journal != nil {
		e.journal.Record(entry)
	}
}

// notifyLater hands n to the notifier after delay, off the event loop.
func (e *Engine) notifyLater(n notify.Notice, delay time.Duration) {
	if e.notifier == nil {
		return
	}
	n.Title = e.opts.Title
	n.Position = e.opts.Position
	n.At = time.Now()

	e.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("pinstay: notice not delivered", "kind", n.Kind, "tab", n.TabID, "error", err)
		}
	})
}
