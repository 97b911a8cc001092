package notify

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

//go:embed popup.js
var popupJS string

// restrictedPrefixes are pages the browser refuses script injection on.
var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-search://",
	"devtools://",
	"edge://",
	"about:",
	"moz-extension://",
	"view-source:",
}

// Restricted reports whether url is a page scripts cannot be injected into.
func Restricted(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return true
	}
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// Surface is the part of the host the popup needs.
type Surface interface {
	GetTab(ctx context.Context, id host.TabID) (host.Tab, error)
	InjectScript(ctx context.Context, id host.TabID, script string, args ...any) error
}

// Popup renders a notice inside the target page. Restricted pages are
// skipped silently.
type Popup struct {
	surface Surface
	policy  *bluemonday.Policy
	logger  *slog.Logger
}

// NewPopup creates a Popup notifier over surface.
func NewPopup(surface Surface, logger *slog.Logger) *Popup {
	if logger == nil {
		logger = slog.Default()
	}
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "code", "br")
	return &Popup{surface: surface, policy: p, logger: logger}
}

// Sanitize strips everything but inline emphasis from s.
func (p *Popup) Sanitize(s string) string {
	return p.policy.Sanitize(s)
}

func (p *Popup) Notify(ctx context.Context, n Notice) error {
	tab, err := p.surface.GetTab(ctx, n.TabID)
	if err != nil {
		return fmt.Errorf("popup: get tab %d: %w", n.TabID, err)
	}
	if Restricted(tab.URL) {
		p.logger.Debug("popup: skipping restricted page", "tab", n.TabID, "url", tab.URL)
		return nil
	}
	pos := n.Position
	if pos != TopCenter {
		pos = BottomRight
	}
	err = p.surface.InjectScript(ctx, n.TabID, popupJS, p.Sanitize(n.Title), p.Sanitize(n.Message), pos)
	if errors.Is(err, host.ErrRestricted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("popup: inject: %w", err)
	}
	return nil
}

func (p *Popup) Close() error { return nil }
