package browser

import (
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/retry"
)

// DefaultTargetURL is the web chat application every session opens.
const DefaultTargetURL = "https://web.whatsapp.com"

// DefaultProfileDir is the persistent profile directory, relative to the
// config file.
const DefaultProfileDir = "whatsapp_profile"

// DefaultUserAgent is a desktop Chrome user agent. The web client refuses
// headless user agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config configures how the browser is launched and driven.
type Config struct {
	// ChromePath is the path to the Chrome/Chromium binary.
	// Auto-detected if empty.
	ChromePath string `yaml:"chrome_path"`

	// Headless runs the browser without a visible window (default: true).
	Headless bool `yaml:"headless"`

	// UserAgent overrides the browser user agent.
	UserAgent string `yaml:"user_agent"`

	// ProfileDir is the persistent profile directory that keeps the login.
	ProfileDir string `yaml:"profile_dir" validate:"required"`

	// TargetURL is opened right after launch (default: web.whatsapp.com).
	TargetURL string `yaml:"target_url" validate:"omitempty,url"`

	// ViewportWidth is the browser window width (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`

	// ViewportHeight is the browser window height (default: 900).
	ViewportHeight int `yaml:"viewport_height"`

	// LaunchTimeout bounds the wait for the DevTools endpoint (default: 30s).
	LaunchTimeout time.Duration `yaml:"launch_timeout"`

	// CommandTimeout bounds a single DevTools round trip (default: 30s).
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Retry bounds launch attempts.
	Retry retry.Policy `yaml:"retry"`

	// ExtraArgs are additional command-line arguments for Chrome.
	ExtraArgs []string `yaml:"extra_args"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		UserAgent:      DefaultUserAgent,
		ProfileDir:     DefaultProfileDir,
		TargetURL:      DefaultTargetURL,
		ViewportWidth:  1280,
		ViewportHeight: 900,
		LaunchTimeout:  30 * time.Second,
		CommandTimeout: 30 * time.Second,
		Retry:          retry.DefaultPolicy(),
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.TargetURL == "" {
		c.TargetURL = def.TargetURL
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = def.ViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = def.ViewportHeight
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = def.LaunchTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	return c
}
