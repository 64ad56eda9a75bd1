// Package config loads server configuration from an optional YAML file
// with environment variable overrides. Precedence: defaults, then file,
// then environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of a pulse server process.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr" env:"PULSE_ADDR"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"PULSE_LOG_LEVEL"`

	// DebounceWindow is the outbound update coalescing window.
	DebounceWindow time.Duration `yaml:"debounce_window" env:"PULSE_DEBOUNCE_WINDOW"`

	// IdleTimeout removes sessions with no activity for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"PULSE_IDLE_TIMEOUT"`

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions" env:"PULSE_MAX_SESSIONS"`

	// MaxProcessMemory triggers LRU eviction above this RSS in bytes.
	// Zero disables the check.
	MaxProcessMemory uint64 `yaml:"max_process_memory" env:"PULSE_MAX_PROCESS_MEMORY"`

	// Persistence selects the store backend: "none", "memory", or
	// "sqlite".
	Persistence string `yaml:"persistence" env:"PULSE_PERSISTENCE"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" env:"PULSE_SQLITE_PATH"`

	// PersistDebounce is the save coalescing window.
	PersistDebounce time.Duration `yaml:"persist_debounce" env:"PULSE_PERSIST_DEBOUNCE"`

	// RateLimit caps events per session per minute. Zero disables it.
	RateLimit int `yaml:"rate_limit" env:"PULSE_RATE_LIMIT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		LogLevel:        "info",
		DebounceWindow:  10 * time.Millisecond,
		IdleTimeout:     5 * time.Minute,
		Persistence:     "none",
		SQLitePath:      "pulse.db",
		PersistDebounce: 2 * time.Second,
		RateLimit:       300,
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and the environment. An empty path skips the file step; a named file
// that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enums.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	switch c.Persistence {
	case "none", "memory", "sqlite":
	default:
		return fmt.Errorf("config: invalid persistence backend %q", c.Persistence)
	}
	if c.DebounceWindow < 0 || c.IdleTimeout < 0 || c.PersistDebounce < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	if c.MaxSessions < 0 || c.RateLimit < 0 {
		return fmt.Errorf("config: limits must not be negative")
	}
	return nil
}
