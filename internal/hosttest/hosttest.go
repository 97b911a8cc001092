// Package hosttest provides an in-memory host.Host for tests. It records
// every command, lets tests inject failures per method, and delivers events
// pushed with Emit.
package hosttest

import (
	"context"
	"sync"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Update is a recorded UpdateTab call.
type Update struct {
	TabID host.TabID
	URL   string
}

// Injection is a recorded InjectScript call.
type Injection struct {
	TabID  host.TabID
	Script string
	Args   []any
}

// Host is a fake browser. The zero value is not usable; call New.
type Host struct {
	mu      sync.Mutex
	tabs    map[host.TabID]host.Tab
	nextID  host.TabID
	active  host.TabID
	updates []Update
	creates []host.CreateOptions
	injects []Injection
	calls   map[string]int
	fail    map[string]error

	events chan host.Event
}

var _ host.Host = (*Host)(nil)
var _ host.Pinner = (*Host)(nil)

// New returns an empty fake host. Tab ids start at 1.
func New() *Host {
	return &Host{
		tabs:   make(map[host.TabID]host.Tab),
		nextID: 1,
		calls:  make(map[string]int),
		fail:   make(map[string]error),
		events: make(chan host.Event, 256),
	}
}

// AddTab inserts t. A zero ID is replaced by the next free one.
func (h *Host) AddTab(t host.Tab) host.Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.ID == 0 {
		t.ID = h.nextID
	}
	if t.ID >= h.nextID {
		h.nextID = t.ID + 1
	}
	h.tabs[t.ID] = t
	if t.Active {
		h.active = t.ID
	}
	return t
}

// SetNextID sets the id CreateTab hands out next.
func (h *Host) SetNextID(id host.TabID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID = id
}

// RemoveTab drops a tab without emitting anything.
func (h *Host) RemoveTab(id host.TabID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, id)
	if h.active == id {
		h.active = 0
	}
}

// SetActive marks id as the active tab.
func (h *Host) SetActive(id host.TabID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = id
}

// Tab returns the current state of a tab.
func (h *Host) Tab(id host.TabID) (host.Tab, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if ok {
		t.Active = id == h.active
	}
	return t, ok
}

// Fail makes every later call to method return err. A nil err clears it.
func (h *Host) Fail(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.fail, method)
		return
	}
	h.fail[method] = err
}

// Calls reports how many times method was called.
func (h *Host) Calls(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[method]
}

// TotalCalls reports the number of commands issued, across all methods.
func (h *Host) TotalCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		n += c
	}
	return n
}

func (h *Host) Updates() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Update(nil), h.updates...)
}

func (h *Host) Creates() []host.CreateOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.CreateOptions(nil), h.creates...)
}

func (h *Host) Injections() []Injection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Injection(nil), h.injects...)
}

// Emit queues an event for the engine.
func (h *Host) Emit(ev host.Event) { h.events <- ev }

// CloseEvents ends the event stream.
func (h *Host) CloseEvents() { close(h.events) }

func (h *Host) Events() <-chan host.Event { return h.events }

// begin counts a call and returns the injected failure, if any.
// Caller holds h.mu.
func (h *Host) begin(method string) error {
	h.calls[method]++
	return h.fail[method]
}

func (h *Host) GetTab(_ context.Context, id host.TabID) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("GetTab"); err != nil {
		return host.Tab{}, err
	}
	t, ok := h.tabs[id]
	if !ok {
		return host.Tab{}, host.ErrNoTab
	}
	t.Active = id == h.active
	return t, nil
}

func (h *Host) QueryPinned(_ context.Context) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("QueryPinned"); err != nil {
		return nil, err
	}
	var out []host.Tab
	for id, t := range h.tabs {
		if t.Pinned {
			t.Active = id == h.active
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *Host) ActiveTab(_ context.Context) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("ActiveTab"); err != nil {
		return host.Tab{}, err
	}
	t, ok := h.tabs[h.active]
	if !ok {
		return host.Tab{}, host.ErrNoTab
	}
	t.Active = true
	return t, nil
}

func (h *Host) UpdateTab(_ context.Context, id host.TabID, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("UpdateTab"); err != nil {
		return err
	}
	t, ok := h.tabs[id]
	if !ok {
		return host.ErrNoTab
	}
	t.URL = url
	h.tabs[id] = t
	h.updates = append(h.updates, Update{TabID: id, URL: url})
	return nil
}

func (h *Host) CreateTab(_ context.Context, opts host.CreateOptions) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("CreateTab"); err != nil {
		return host.Tab{}, err
	}
	t := host.Tab{ID: h.nextID, WindowID: opts.WindowID, URL: opts.URL, Pinned: opts.Pinned, Active: opts.Active}
	h.nextID++
	h.tabs[t.ID] = t
	if opts.Active {
		h.active = t.ID
	}
	h.creates = append(h.creates, opts)
	return t, nil
}

func (h *Host) InjectScript(_ context.Context, id host.TabID, script string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.begin("InjectScript"); err != nil {
		return err
	}
	if _, ok := h.tabs[id]; !ok {
		return host.ErrNoTab
	}
	h.injects = append(h.injects, Injection{TabID: id, Script: script, Args: args})
	return nil
}

// Pin sets the pinned flag and emits TabUpdated.
func (h *Host) Pin(ctx context.Context, id host.TabID) error { return h.setPinned(id, true) }

// Unpin clears the pinned flag and emits TabUpdated.
func (h *Host) Unpin(ctx context.Context, id host.TabID) error { return h.setPinned(id, false) }

func (h *Host) setPinned(id host.TabID, pinned bool) error {
	h.mu.Lock()
	if err := h.begin("SetPinned"); err != nil {
		h.mu.Unlock()
		return err
	}
	t, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return host.ErrNoTab
	}
	t.Pinned = pinned
	h.tabs[id] = t
	h.mu.Unlock()

	h.Emit(host.TabUpdated{Tab: t})
	return nil
}
