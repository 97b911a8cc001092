// Package config handles pinstay configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRevertMessage = "Your pinned tabs are locked to the domain they were pinned."
	DefaultCloseMessage  = "You must unpin a tab to close it. You can unpin a tab by clicking the pin icon in the top right corner of the tab, or right clicking the tab and selecting 'Unpin'."
)

// Config is the top-level pinstay configuration.
type Config struct {
	Browser    BrowserConfig `yaml:"browser"`
	Store      StoreConfig   `yaml:"store"`
	Journal    JournalConfig `yaml:"journal"`
	Notify     NotifyConfig  `yaml:"notify"`
	HTTP       HTTPConfig    `yaml:"http"`
	WelcomeURL string        `yaml:"welcome_url"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote         string        `yaml:"remote"`
	Headless       bool          `yaml:"headless"`
	Stealth        bool          `yaml:"stealth"`
	UserDataDir    string        `yaml:"user_data_dir"`
	HealthInterval time.Duration `yaml:"health_interval"`
	DestroyGrace   time.Duration `yaml:"destroy_grace"`
}

// StoreConfig says where the lock snapshot lives.
type StoreConfig struct {
	SessionDir string `yaml:"session_dir"` // empty = $XDG_RUNTIME_DIR/pinstay
	DataDir    string `yaml:"data_dir"`
}

// JournalConfig controls the lock-event journal.
type JournalConfig struct {
	Path          string        `yaml:"path"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// NotifyConfig selects notifiers and their text.
type NotifyConfig struct {
	Popup         *bool         `yaml:"popup"` // nil = true
	Stdout        bool          `yaml:"stdout"`
	Webhook       string        `yaml:"webhook"`
	Delay         time.Duration `yaml:"delay"`
	Title         string        `yaml:"title"`
	Position      string        `yaml:"position"` // bottom-right | top-center
	RevertMessage string        `yaml:"revert_message"`
	CloseMessage  string        `yaml:"close_message"`
}

// PopupEnabled reports whether the in-page popup is on.
func (n NotifyConfig) PopupEnabled() bool {
	return n.Popup == nil || *n.Popup
}

// HTTPConfig controls the operator API.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	TokenHash string `yaml:"token_hash"` // bcrypt; empty = no auth
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.HealthInterval <= 0 {
		c.Browser.HealthInterval = 5 * time.Second
	}
	if c.Browser.DestroyGrace <= 0 {
		c.Browser.DestroyGrace = 150 * time.Millisecond
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = c.Store.DataDir + "/journal.db"
	}
	if c.Journal.BufferSize <= 0 {
		c.Journal.BufferSize = 64
	}
	if c.Journal.FlushInterval <= 0 {
		c.Journal.FlushInterval = 2 * time.Second
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 30
	}
	if c.Notify.Delay <= 0 {
		c.Notify.Delay = 500 * time.Millisecond
	}
	if c.Notify.Title == "" {
		c.Notify.Title = "PinStay"
	}
	if c.Notify.Position == "" {
		c.Notify.Position = "bottom-right"
	}
	if c.Notify.RevertMessage == "" {
		c.Notify.RevertMessage = DefaultRevertMessage
	}
	if c.Notify.CloseMessage == "" {
		c.Notify.CloseMessage = DefaultCloseMessage
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8787"
	}
}

func (c *Config) validate() error {
	switch c.Notify.Position {
	case "bottom-right", "top-center":
	default:
		return fmt.Errorf("config: notify.position %q: want bottom-right or top-center", c.Notify.Position)
	}
	return nil
}
