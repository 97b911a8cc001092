package browser

import (
	"sort"
	"sync"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// target is what the adapter knows about one page target.
type target struct {
	id      string // CDP target id
	tab     host.TabID
	window  host.WindowID
	url     string
	pinned  bool
	lastNav string // last URL reported as a navigation, for dedup
	gone    bool   // destroyed, removal pending
}

func (t *target) tabView(active host.TabID) host.Tab {
	return host.Tab{ID: t.tab, WindowID: t.window, URL: t.url, Pinned: t.pinned, Active: t.tab == active}
}

// targets maps CDP target ids to the integer tab ids the engine sees. An
// id is never reused while its target lives. Pinned rows loaded from the
// database are kept as dormant entries so a tab restored by the browser
// (new target id, same URL) gets its old id and pinned flag back.
type targets struct {
	mu      sync.Mutex
	byID    map[string]*target
	byTab   map[host.TabID]*target
	dormant map[host.TabID]*target
	nextTab host.TabID
	active  host.TabID
}

func newTargets() *targets {
	return &targets{
		byID:    make(map[string]*target),
		byTab:   make(map[host.TabID]*target),
		dormant: make(map[host.TabID]*target),
		nextTab: 1,
	}
}

// seed installs persisted pinned rows as dormant entries.
func (ts *targets) seed(rows []pinRow) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, r := range rows {
		ts.dormant[r.TabID] = &target{id: r.TargetID, tab: r.TabID, url: r.URL, pinned: true}
		if r.TabID >= ts.nextTab {
			ts.nextTab = r.TabID + 1
		}
	}
}

// claim returns the entry for a live target, creating it if needed; fresh
// reports creation. A new target takes over a dormant pinned entry with the
// same target id, or failing that the same URL; restored reports that case.
func (ts *targets) claim(targetID, url string) (t target, fresh, restored bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, fresh, restored := ts.claimLocked(targetID, url)
	return *e, fresh, restored
}

// claimPinned claims a target and sets its pinned flag in one step, so no
// reader ever sees the tab unpinned once this returns, whichever side
// claimed it first.
func (ts *targets) claimPinned(targetID, url string) (t target, fresh bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, fresh, _ := ts.claimLocked(targetID, url)
	e.pinned = true
	return *e, fresh
}

func (ts *targets) claimLocked(targetID, url string) (t *target, fresh, restored bool) {
	if e, ok := ts.byID[targetID]; ok {
		return e, false, false
	}

	var e *target
	for tab, d := range ts.dormant {
		if d.id == targetID {
			e = d
			delete(ts.dormant, tab)
			break
		}
	}
	if e == nil && url != "" {
		// Deterministic pick when several rows share a URL.
		tabs := make([]host.TabID, 0, len(ts.dormant))
		for tab, d := range ts.dormant {
			if d.url == url {
				tabs = append(tabs, tab)
			}
		}
		if len(tabs) > 0 {
			sort.Slice(tabs, func(i, j int) bool { return tabs[i] < tabs[j] })
			e = ts.dormant[tabs[0]]
			delete(ts.dormant, tabs[0])
		}
	}
	if e != nil {
		restored = true
	} else {
		e = &target{tab: ts.nextTab}
		ts.nextTab++
	}
	e.id = targetID
	if url != "" {
		e.url = url
	}
	ts.byID[targetID] = e
	ts.byTab[e.tab] = e
	return e, true, restored
}

// update records the URL and window of a live target and reports whether
// anything changed.
func (ts *targets) update(targetID, url string, window host.WindowID) (target, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byID[targetID]
	if !ok {
		return target{}, false
	}
	changed := false
	if url != "" && url != e.url {
		e.url = url
		changed = true
	}
	if window != 0 && window != e.window {
		e.window = window
		changed = true
	}
	return *e, changed
}

// adopt moves the pinned flag of a dormant entry with the given URL onto a
// live, unpinned target whose URL was unknown when it was claimed. It
// returns the live entry and the dormant tab id it replaced.
func (ts *targets) adopt(targetID, url string) (target, host.TabID, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byID[targetID]
	if !ok || e.pinned || url == "" {
		return target{}, 0, false
	}
	var old host.TabID
	for tab, d := range ts.dormant {
		if d.url == url && (old == 0 || tab < old) {
			old = tab
		}
	}
	if old == 0 {
		return target{}, 0, false
	}
	delete(ts.dormant, old)
	e.pinned = true
	return *e, old, true
}

// navigated reports whether url is a new navigation for the target, and
// remembers it.
func (ts *targets) navigated(targetID, url string) (host.TabID, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byID[targetID]
	if !ok || e.lastNav == url {
		return 0, false
	}
	e.lastNav = url
	return e.tab, true
}

// remove forgets a destroyed target. Pinned entries go dormant when keep
// is set, so they can be reclaimed after a browser restart.
func (ts *targets) remove(targetID string, keep bool) (target, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byID[targetID]
	if !ok {
		return target{}, false
	}
	delete(ts.byID, targetID)
	delete(ts.byTab, e.tab)
	if ts.active == e.tab {
		ts.active = 0
	}
	e.lastNav = ""
	if keep && e.pinned {
		ts.dormant[e.tab] = e
	}
	return *e, true
}

// markGone flags a destroyed target so it no longer counts as live while
// its removal is pending.
func (ts *targets) markGone(targetID string) (target, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byID[targetID]
	if !ok {
		return target{}, false
	}
	e.gone = true
	return *e, true
}

// liveInWindow counts targets in window that are not gone.
func (ts *targets) liveInWindow(window host.WindowID) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for _, e := range ts.byID {
		if e.window == window && !e.gone {
			n++
		}
	}
	return n
}

// suspendAll moves every live target out, as after a lost connection.
// Pinned ones go dormant.
func (ts *targets) suspendAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, e := range ts.byID {
		e.lastNav = ""
		if e.pinned {
			ts.dormant[e.tab] = e
		}
		delete(ts.byID, id)
		delete(ts.byTab, e.tab)
	}
	ts.active = 0
}

func (ts *targets) byTarget(targetID string) (target, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byID[targetID]
	if !ok {
		return target{}, false
	}
	return *e, true
}

func (ts *targets) tab(id host.TabID) (target, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byTab[id]
	if !ok {
		return target{}, false
	}
	return *e, true
}

// setPinned flips the flag of a live tab.
func (ts *targets) setPinned(id host.TabID, pinned bool) (target, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e, ok := ts.byTab[id]
	if !ok {
		return target{}, false
	}
	e.pinned = pinned
	return *e, true
}

func (ts *targets) setActive(id host.TabID) {
	ts.mu.Lock()
	ts.active = id
	ts.mu.Unlock()
}

func (ts *targets) activeTab() host.TabID {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.active
}

// live returns a copy of every target not gone, ordered by tab id.
func (ts *targets) live() []target {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]target, 0, len(ts.byID))
	for _, e := range ts.byID {
		if !e.gone {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tab < out[j].tab })
	return out
}
