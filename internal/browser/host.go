package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Options configures a Host.
type Options struct {
	// Stealth opens recreated tabs through go-rod/stealth.
	Stealth bool
	// DestroyGrace is how long a destroyed target waits before it is
	// reported, so the rest of a closing window can go too. Default: 150ms.
	DestroyGrace time.Duration
	// CallTimeout bounds each CDP command. Default: 10s.
	CallTimeout time.Duration
	// FirstRun makes the first attach emit Installed.
	FirstRun bool
	Logger   *slog.Logger
}

// Host implements host.Host and host.Pinner over a Manager.
type Host struct {
	mgr    *Manager
	pins   *PinStore
	ts     *targets
	opts   Options
	logger *slog.Logger

	events chan host.Event

	mu       sync.Mutex
	ctx      context.Context
	actx     context.Context // current attachment
	detach   context.CancelFunc
	attached bool
}

var (
	_ host.Host   = (*Host)(nil)
	_ host.Pinner = (*Host)(nil)
)

// New creates a Host. Call Start once the Manager is started.
func New(mgr *Manager, pins *PinStore, opts Options) *Host {
	if opts.DestroyGrace <= 0 {
		opts.DestroyGrace = 150 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Host{
		mgr:    mgr,
		pins:   pins,
		ts:     newTargets(),
		opts:   opts,
		logger: opts.Logger,
		events: make(chan host.Event, 1024),
	}
}

// Start loads the pinned rows, attaches to the current browser and
// subscribes to reconnects. Events flow until ctx ends.
func (h *Host) Start(ctx context.Context) error {
	rows, err := h.pins.load(ctx)
	if err != nil {
		return err
	}
	h.ts.seed(rows)

	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	h.mgr.SetCallbacks(Callbacks{
		OnDisconnect: h.onDisconnect,
		OnReconnect: func(b *rod.Browser) {
			if err := h.attach(b); err != nil {
				h.logger.Error("browser: re-attach failed", "error", err)
				return
			}
			h.emit(host.Started{})
		},
	})

	b := h.mgr.Browser()
	if b == nil {
		return errors.New("browser: not connected")
	}
	if err := h.attach(b); err != nil {
		return err
	}
	if h.opts.FirstRun {
		h.emit(host.Installed{})
	}
	return nil
}

func (h *Host) Events() <-chan host.Event { return h.events }

func (h *Host) emit(ev host.Event) {
	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}

// attach subscribes to target discovery on b and registers the pages that
// already exist.
func (h *Host) attach(b *rod.Browser) error {
	h.mu.Lock()
	if h.detach != nil {
		h.detach()
	}
	actx, cancel := context.WithCancel(h.ctx)
	h.actx = actx
	h.detach = cancel
	h.attached = true
	h.mu.Unlock()

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("browser: discover targets: %w", err)
	}

	wait := b.Context(actx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type == proto.TargetTargetInfoTypePage {
				h.addTarget(actx, b, e.TargetInfo.TargetID, e.TargetInfo.URL)
			}
		},
		func(e *proto.TargetTargetInfoChanged) {
			if e.TargetInfo.Type == proto.TargetTargetInfoTypePage {
				h.targetChanged(e.TargetInfo.TargetID, e.TargetInfo.URL)
			}
		},
		func(e *proto.TargetTargetDestroyed) {
			h.targetDestroyed(actx, e.TargetID)
		},
	)
	go wait()

	pages, err := b.Pages()
	if err != nil {
		return fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		h.addTarget(actx, b, p.TargetID, info.URL)
	}
	return nil
}

// addTarget registers a page target, watches its navigations and reports
// it if pinned.
func (h *Host) addTarget(ctx context.Context, b *rod.Browser, id proto.TargetTargetID, url string) {
	t, fresh, restored := h.ts.claim(string(id), url)
	if !fresh {
		return
	}
	if restored {
		h.savePin(t)
		h.logger.Info("browser: pinned tab restored", "tab", t.tab, "url", t.url)
	}

	if w, err := (proto.BrowserGetWindowForTarget{TargetID: id}).Call(b); err == nil {
		h.ts.update(string(id), "", host.WindowID(w.WindowID))
	}
	h.watch(ctx, b, id)
	h.reportPinned(string(id))
}

// reportPinned emits TabUpdated for a target from its current entry, and
// only while it is pinned. CreateTab may pin a target this goroutine has
// already claimed, so a copy taken earlier can be stale. Unpinned state
// is reported by Unpin alone.
func (h *Host) reportPinned(targetID string) {
	if ev, ok := h.pinnedUpdate(targetID); ok {
		h.emit(ev)
	}
}

func (h *Host) pinnedUpdate(targetID string) (host.TabUpdated, bool) {
	t, ok := h.ts.byTarget(targetID)
	if !ok || !t.pinned {
		return host.TabUpdated{}, false
	}
	return host.TabUpdated{Tab: t.tabView(h.ts.activeTab())}, true
}

func (h *Host) watch(ctx context.Context, b *rod.Browser, id proto.TargetTargetID) {
	page, err := b.PageFromTarget(id)
	if err != nil {
		h.logger.Warn("browser: attach page failed", "target", id, "error", err)
		return
	}
	go h.watchPage(ctx, page, string(id))
}

// watchPage turns top-level navigations of one page into BeforeNavigate.
// Renderer-initiated navigations are seen before they commit; the rest
// when they commit. A URL already reported is not reported twice.
// beforeunload prompts on pinned tabs are accepted.
func (h *Host) watchPage(ctx context.Context, page *rod.Page, targetID string) {
	if err := (proto.PageEnable{}).Call(page); err != nil {
		h.logger.Debug("browser: page enable failed", "target", targetID, "error", err)
		return
	}
	mainFrame := page.FrameID

	report := func(topLevel bool, url string) {
		if !topLevel {
			// Sub-frames are passed through for the engine to ignore.
			if t, ok := h.ts.byTarget(targetID); ok {
				h.emit(host.BeforeNavigate{TabID: t.tab, FrameID: 1, URL: url})
			}
			return
		}
		if tab, ok := h.ts.navigated(targetID, url); ok {
			h.emit(host.BeforeNavigate{TabID: tab, URL: url})
		}
	}

	wait := page.Context(ctx).EachEvent(
		func(e *proto.PageFrameRequestedNavigation) {
			report(e.FrameID == mainFrame, e.URL)
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil {
				return
			}
			report(e.Frame.ParentID == "", e.Frame.URL)
		},
		func(e *proto.PageJavascriptDialogOpening) {
			if h.acceptsDialog(targetID, e.Type) {
				// Answered off the event goroutine, which the call waits on.
				go h.acceptDialog(page, targetID)
			}
		},
	)
	wait()
}

// acceptsDialog reports whether a dialog on a target is answered without
// the user: a "Leave site?" prompt on a pinned tab would otherwise hold
// a revert navigation until someone clicks it.
func (h *Host) acceptsDialog(targetID string, typ proto.PageDialogType) bool {
	if typ != proto.PageDialogTypeBeforeunload {
		return false
	}
	t, ok := h.ts.byTarget(targetID)
	return ok && t.pinned
}

func (h *Host) acceptDialog(page *rod.Page, targetID string) {
	if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(page); err != nil {
		h.logger.Debug("browser: beforeunload accept failed", "target", targetID, "error", err)
		return
	}
	h.logger.Debug("browser: beforeunload accepted", "target", targetID)
}

func (h *Host) targetChanged(id proto.TargetTargetID, url string) {
	t, changed := h.ts.update(string(id), url, 0)
	if !changed {
		return
	}
	if at, old, ok := h.ts.adopt(string(id), url); ok {
		t = at
		h.deletePin(old)
		h.logger.Info("browser: pinned tab restored", "tab", t.tab, "was", old, "url", t.url)
	}
	if t.pinned {
		h.savePin(t)
	}
	h.reportPinned(string(id))
}

// targetDestroyed reports a closed tab after the grace period. If its
// window has no live target left by then, the window is closing.
func (h *Host) targetDestroyed(ctx context.Context, id proto.TargetTargetID) {
	t, ok := h.ts.markGone(string(id))
	if !ok {
		return
	}
	time.AfterFunc(h.opts.DestroyGrace, func() {
		if ctx.Err() != nil {
			return
		}
		closing := windowClosing(t.window, h.ts.liveInWindow(t.window))
		removed, ok := h.ts.remove(string(id), closing)
		if !ok {
			return
		}
		if removed.pinned && !closing {
			h.deletePin(removed.tab)
		}
		if closing {
			h.emit(host.WindowRemoved{WindowID: removed.window})
		}
		h.emit(host.TabRemoved{TabID: removed.tab, WindowID: removed.window, WindowClosing: closing})
	})
}

// windowClosing classifies a close: the window goes with its last tab.
// An unknown window (0) is never reported as closing.
func windowClosing(window host.WindowID, remaining int) bool {
	return window != 0 && remaining == 0
}

func (h *Host) onDisconnect() {
	h.mu.Lock()
	if h.detach != nil {
		h.detach()
		h.detach = nil
	}
	h.attached = false
	h.mu.Unlock()

	h.ts.suspendAll()
	h.emit(host.WindowRemoved{})
}

// page resolves a tab id to its rod page.
func (h *Host) page(id host.TabID) (*rod.Page, target, error) {
	t, ok := h.ts.tab(id)
	if !ok {
		return nil, target{}, host.ErrNoTab
	}
	b := h.mgr.Browser()
	if b == nil {
		return nil, target{}, errors.New("browser: not connected")
	}
	p, err := b.PageFromTarget(proto.TargetTargetID(t.id))
	if err != nil {
		return nil, target{}, fmt.Errorf("browser: page %d: %w", id, err)
	}
	return p, t, nil
}

func (h *Host) GetTab(_ context.Context, id host.TabID) (host.Tab, error) {
	t, ok := h.ts.tab(id)
	if !ok {
		return host.Tab{}, host.ErrNoTab
	}
	return t.tabView(h.ts.activeTab()), nil
}

func (h *Host) QueryPinned(_ context.Context) ([]host.Tab, error) {
	h.mu.Lock()
	attached := h.attached
	h.mu.Unlock()
	if !attached {
		return nil, errors.New("browser: not connected")
	}
	active := h.ts.activeTab()
	var out []host.Tab
	for _, t := range h.ts.live() {
		if t.pinned {
			out = append(out, t.tabView(active))
		}
	}
	return out, nil
}

// ActiveTab returns the first page the browser reports as visible, or the
// tab this adapter activated last.
func (h *Host) ActiveTab(ctx context.Context) (host.Tab, error) {
	b := h.mgr.Browser()
	if b != nil {
		for _, t := range h.ts.live() {
			p, err := b.PageFromTarget(proto.TargetTargetID(t.id))
			if err != nil {
				continue
			}
			cctx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
			res, err := p.Context(cctx).Eval(`() => document.visibilityState`)
			cancel()
			if err == nil && res.Value.Str() == "visible" {
				h.ts.setActive(t.tab)
				return t.tabView(t.tab), nil
			}
		}
	}
	if t, ok := h.ts.tab(h.ts.activeTab()); ok {
		return t.tabView(t.tab), nil
	}
	return host.Tab{}, host.ErrNoTab
}

func (h *Host) UpdateTab(ctx context.Context, id host.TabID, url string) error {
	p, _, err := h.page(id)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()
	if _, err := (proto.PageNavigate{URL: url}).Call(p.Context(cctx)); err != nil {
		return fmt.Errorf("browser: navigate %d: %w", id, err)
	}
	return nil
}

// CreateTab opens a page and marks it pinned and active as asked. CDP
// cannot aim at a window, so the tab lands where the browser puts it.
func (h *Host) CreateTab(ctx context.Context, opts host.CreateOptions) (host.Tab, error) {
	b := h.mgr.Browser()
	if b == nil {
		return host.Tab{}, errors.New("browser: not connected")
	}
	cb := b.Context(ctx)

	var p *rod.Page
	var err error
	if h.opts.Stealth {
		p, err = stealth.Page(cb)
		if err == nil {
			_, err = (proto.PageNavigate{URL: opts.URL}).Call(p)
		}
	} else {
		p, err = cb.Page(proto.TargetCreateTarget{URL: opts.URL})
	}
	if err != nil {
		return host.Tab{}, fmt.Errorf("browser: create tab: %w", err)
	}

	var t target
	var fresh bool
	if opts.Pinned {
		t, fresh = h.ts.claimPinned(string(p.TargetID), opts.URL)
		h.savePin(t)
	} else {
		t, fresh, _ = h.ts.claim(string(p.TargetID), opts.URL)
	}
	if fresh {
		h.mu.Lock()
		actx := h.actx
		h.mu.Unlock()
		if actx != nil {
			h.watch(actx, b, p.TargetID)
		}
	}
	if w, err := (proto.BrowserGetWindowForTarget{TargetID: p.TargetID}).Call(cb); err == nil {
		t, _ = h.ts.update(t.id, "", host.WindowID(w.WindowID))
	}
	if opts.Active {
		if _, err := p.Activate(); err != nil {
			h.logger.Warn("browser: activate failed", "tab", t.tab, "error", err)
		} else {
			h.ts.setActive(t.tab)
		}
	}
	return t.tabView(h.ts.activeTab()), nil
}

// restrictedSchemes refuse script injection.
var restrictedSchemes = []string{"chrome:", "chrome-extension:", "chrome-search:", "devtools:", "edge:", "about:", "view-source:"}

func (h *Host) InjectScript(ctx context.Context, id host.TabID, script string, args ...any) error {
	p, t, err := h.page(id)
	if err != nil {
		return err
	}
	for _, s := range restrictedSchemes {
		if strings.HasPrefix(t.url, s) {
			return host.ErrRestricted
		}
	}
	cctx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()
	if _, err := p.Context(cctx).Eval(script, args...); err != nil {
		return fmt.Errorf("browser: inject %d: %w", id, err)
	}
	return nil
}

// Pin marks a tab pinned and emits TabUpdated.
func (h *Host) Pin(ctx context.Context, id host.TabID) error {
	t, ok := h.ts.setPinned(id, true)
	if !ok {
		return host.ErrNoTab
	}
	if err := h.pins.save(ctx, pinRow{TabID: t.tab, TargetID: t.id, URL: t.url}); err != nil {
		h.logger.Warn("browser: persist pin failed", "tab", id, "error", err)
	}
	h.emit(host.TabUpdated{Tab: t.tabView(h.ts.activeTab())})
	return nil
}

// Unpin clears the pinned flag and emits TabUpdated.
func (h *Host) Unpin(ctx context.Context, id host.TabID) error {
	t, ok := h.ts.setPinned(id, false)
	if !ok {
		return host.ErrNoTab
	}
	if err := h.pins.delete(ctx, id); err != nil {
		h.logger.Warn("browser: persist unpin failed", "tab", id, "error", err)
	}
	h.emit(host.TabUpdated{Tab: t.tabView(h.ts.activeTab())})
	return nil
}

// Close stops event delivery. The Manager is closed by its owner.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detach != nil {
		h.detach()
		h.detach = nil
	}
	h.attached = false
	return nil
}

func (h *Host) savePin(t target) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.pins.save(ctx, pinRow{TabID: t.tab, TargetID: t.id, URL: t.url}); err != nil {
		h.logger.Warn("browser: persist pin failed", "tab", t.tab, "error", err)
	}
}

func (h *Host) deletePin(tab host.TabID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.pins.delete(ctx, tab); err != nil {
		h.logger.Warn("browser: drop pin failed", "tab", tab, "error", err)
	}
}
