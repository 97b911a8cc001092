// Package notify delivers best-effort user feedback when a lock is
// enforced. Nothing here affects lock state: every error is reported to the
// caller for logging only.
package notify

import (
	"context"
	"time"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// Kind says which enforcement produced a notice.
type Kind string

const (
	KindRevert   Kind = "revert"
	KindRecreate Kind = "recreate"
)

// Position of the in-page popup.
const (
	BottomRight = "bottom-right"
	TopCenter   = "top-center"
)

// Notice is one piece of feedback, addressed to the tab that should show it.
type Notice struct {
	Kind     Kind       `json:"kind"`
	TabID    host.TabID `json:"tab_id"`
	Domain   string     `json:"domain,omitempty"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Position string     `json:"position"`
	At       time.Time  `json:"at"`
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
	Close() error
}

// Func adapts a function to Notifier, for in-process consumers.
type Func func(ctx context.Context, n Notice) error

func (f Func) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }
func (f Func) Close() error                               { return nil }
