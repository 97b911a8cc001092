// Package domain extracts the comparable host part of a URL.
package domain

import (
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrUnresolvable is returned for input that has no usable host. Callers
// treat it as "no opinion" and never block on it.
var ErrUnresolvable = errors.New("domain: unresolvable url")

// Resolve returns the lower-cased, ASCII (punycode) hostname of rawURL,
// without port. URLs without a scheme or host (about:blank, relative paths)
// are unresolvable.
func Resolve(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return "", ErrUnresolvable
	}
	h := strings.TrimSuffix(u.Hostname(), ".")
	if h == "" {
		return "", ErrUnresolvable
	}
	if a, err := idna.Lookup.ToASCII(h); err == nil && a != "" {
		h = a
	}
	return strings.ToLower(h), nil
}
