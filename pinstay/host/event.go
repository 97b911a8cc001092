package host

// Event is one host notification. The concrete types below are the only
// implementations.
type Event interface {
	eventName() string
}

// TabUpdated reports the current state of a tab after any change.
type TabUpdated struct {
	Tab Tab
}

// BeforeNavigate reports a navigation about to commit. FrameID 0 is the
// top-level document.
type BeforeNavigate struct {
	TabID   TabID
	FrameID int
	URL     string
}

// TabRemoved reports that a tab is gone. WindowClosing is set when its
// window is closing along with it.
type TabRemoved struct {
	TabID         TabID
	WindowID      WindowID
	WindowClosing bool
}

// WindowRemoved reports that a window closed. WindowID 0 means the whole
// browser went away.
type WindowRemoved struct {
	WindowID WindowID
}

// Started reports that the host (re)started or the connection to it was
// re-established; in-memory assumptions about it are stale.
type Started struct{}

// Installed reports a first run: no durable state existed before.
type Installed struct{}

func (TabUpdated) eventName() string     { return "tab_updated" }
func (BeforeNavigate) eventName() string { return "before_navigate" }
func (TabRemoved) eventName() string     { return "tab_removed" }
func (WindowRemoved) eventName() string  { return "window_removed" }
func (Started) eventName() string        { return "started" }
func (Installed) eventName() string      { return "installed" }

// Name returns a short, stable name for ev, for logs.
func Name(ev Event) string {
	if ev == nil {
		return "nil"
	}
	return ev.eventName()
}
