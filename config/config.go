// Package config loads offline layer configuration from environment
// variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the environment-driven configuration for the offline layer.
type Config struct {
	// App is the application name embedded in store names.
	App string `env:"OFFLINE_APP" envDefault:"offline"`

	// Version is the current store generation token.
	Version string `env:"OFFLINE_VERSION" envDefault:"v1"`

	// CachePath is the cache store registry database file.
	CachePath string `env:"OFFLINE_CACHE_PATH" envDefault:"offline-cache.db"`

	// QueuePath is the sync queue database file.
	QueuePath string `env:"OFFLINE_QUEUE_PATH" envDefault:"offline-queue.db"`

	// Origin is the application's own origin (scheme://host).
	Origin string `env:"OFFLINE_ORIGIN"`

	// AllowedOrigins lists trusted foreign origins whose responses may
	// be cached (e.g. a media CDN).
	AllowedOrigins []string `env:"OFFLINE_ALLOWED_ORIGINS" envSeparator:","`

	// APIPrefix is the API namespace path prefix.
	APIPrefix string `env:"OFFLINE_API_PREFIX" envDefault:"/api/"`

	// AuthPrefix is the never-cached authentication path prefix.
	AuthPrefix string `env:"OFFLINE_AUTH_PREFIX" envDefault:"/api/auth/"`

	// Manifest is the ordered precache manifest (shell asset URLs).
	Manifest []string `env:"OFFLINE_PRECACHE" envSeparator:","`

	// ShellURL is the navigation fallback entry; defaults to the first
	// manifest entry when empty.
	ShellURL string `env:"OFFLINE_SHELL_URL"`

	// SyncMaxAttempts is the sync queue's attempt ceiling.
	SyncMaxAttempts int `env:"OFFLINE_SYNC_MAX_ATTEMPTS" envDefault:"5"`

	// ProxyAddr is the listen address of the offline-proxy binary.
	ProxyAddr string `env:"OFFLINE_PROXY_ADDR" envDefault:"localhost:8089"`
}

// Parse loads configuration from environment variables.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
