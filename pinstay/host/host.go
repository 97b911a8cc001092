// Package host defines the port between the lock engine and the browser it
// polices: the events the browser delivers and the commands the engine may
// issue. The go-rod adapter in internal/browser implements it for a live
// Chromium; internal/hosttest implements it in memory.
package host

import (
	"context"
	"errors"
)

// TabID is the host-assigned tab handle. The host may hand the same value
// to an unrelated tab once the original is gone.
type TabID int

// WindowID identifies a browser window. Zero means "unknown / any".
type WindowID int

var (
	// ErrNoTab is returned when a command targets a tab that does not exist.
	ErrNoTab = errors.New("host: no such tab")
	// ErrRestricted is returned when a command is not allowed on a
	// privileged page (browser-internal or extension pages).
	ErrRestricted = errors.New("host: restricted page")
	// ErrNotPinnable is returned by hosts that cannot change pinned state.
	ErrNotPinnable = errors.New("host: pinning not supported")
)

// Tab is the host's view of a tab at the time it was queried.
type Tab struct {
	ID       TabID    `json:"id"`
	WindowID WindowID `json:"window_id"`
	URL      string   `json:"url"`
	Pinned   bool     `json:"pinned"`
	Active   bool     `json:"active"`
}

// CreateOptions describes a tab to create.
type CreateOptions struct {
	URL      string
	Pinned   bool
	Active   bool
	WindowID WindowID
}

// Host is the set of commands the engine issues plus its event feed.
// Every command may fail; callers treat failures as "do nothing this time".
type Host interface {
	// Events delivers host events one at a time, in arrival order.
	Events() <-chan Event

	GetTab(ctx context.Context, id TabID) (Tab, error)
	QueryPinned(ctx context.Context) ([]Tab, error)
	ActiveTab(ctx context.Context) (Tab, error)
	UpdateTab(ctx context.Context, id TabID, url string) error
	CreateTab(ctx context.Context, opts CreateOptions) (Tab, error)
	InjectScript(ctx context.Context, id TabID, script string, args ...any) error
}

// Pinner is implemented by hosts whose pinned state is driven from outside
// the browser UI (the CDP adapter).
type Pinner interface {
	Pin(ctx context.Context, id TabID) error
	Unpin(ctx context.Context, id TabID) error
}
