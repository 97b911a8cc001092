// Package browser connects pinstay to a Chromium browser over CDP: the
// Manager owns the connection (launch or attach, health checks, reconnect
// after a crash) and Host adapts it to the host.Host port.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of a running Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless launches Chrome without a window. Ignored for RemoteURL.
	Headless bool

	// UserDataDir is the profile directory of a launched Chrome, so the
	// browser restores its own tabs across restarts. Empty = throwaway.
	UserDataDir string

	// HealthInterval is how often the connection is probed. Default: 5s.
	HealthInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Callbacks are invoked around a lost connection. OnDisconnect runs when a
// health probe fails, OnReconnect once a new connection is up.
type Callbacks struct {
	OnDisconnect func()
	OnReconnect  func(b *rod.Browser)
}

// Manager manages the Chrome connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
	cb      Callbacks
}

// NewManager creates a browser Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetCallbacks sets the connection-loss callbacks.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Start launches Chrome (or connects to a remote instance) and starts the
// health monitor.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("browser: manager is closed")
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)

	return b, nil
}

// Browser returns the current Rod browser handle, nil while disconnected.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close disconnects, and kills Chrome if the manager launched it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.UserDataDir != "" {
			l = l.UserDataDir(m.cfg.UserDataDir)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

// monitorLoop probes the connection and re-establishes it after a failure.
func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	down := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, cb, since := m.closed, m.browser, m.cb, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}

		if b != nil && probe(ctx, b) == nil {
			continue
		}
		if !down {
			down = true
			log.Warn("browser: connection lost", "uptime", time.Since(since))
			if cb.OnDisconnect != nil {
				cb.OnDisconnect()
			}
		}

		nb, err := m.reconnect()
		if err != nil {
			log.Error("browser: reconnect failed", "error", err)
			continue
		}
		down = false
		log.Info("browser: reconnected")
		if cb.OnReconnect != nil {
			cb.OnReconnect(nb)
		}
	}
}

func (m *Manager) reconnect() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("browser: manager is closed")
	}
	m.cleanup()
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()
	return b, nil
}

func probe(ctx context.Context, b *rod.Browser) error {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(b.Context(pctx))
	return err
}
