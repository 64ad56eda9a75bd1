package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DebounceWindow != 10*time.Millisecond {
		t.Errorf("DebounceWindow = %v", cfg.DebounceWindow)
	}
	if cfg.Persistence != "none" {
		t.Errorf("Persistence = %q", cfg.Persistence)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	content := `
addr: ":9000"
log_level: debug
debounce_window: 25ms
persistence: sqlite
sqlite_path: /tmp/test.db
max_sessions: 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.DebounceWindow != 25*time.Millisecond {
		t.Errorf("DebounceWindow = %v", cfg.DebounceWindow)
	}
	if cfg.Persistence != "sqlite" || cfg.SQLitePath != "/tmp/test.db" {
		t.Errorf("Persistence = %q, SQLitePath = %q", cfg.Persistence, cfg.SQLitePath)
	}
	if cfg.MaxSessions != 100 {
		t.Errorf("MaxSessions = %d", cfg.MaxSessions)
	}
	// Untouched fields keep their defaults.
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	if err := os.WriteFile(path, []byte("addr: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PULSE_ADDR", ":7000")
	t.Setenv("PULSE_MAX_SESSIONS", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Errorf("Addr = %q, want env value", cfg.Addr)
	}
	if cfg.MaxSessions != 42 {
		t.Errorf("MaxSessions = %d, want env value", cfg.MaxSessions)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing named file accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad persistence", func(c *Config) { c.Persistence = "dynamo" }},
		{"negative debounce", func(c *Config) { c.DebounceWindow = -time.Second }},
		{"negative sessions", func(c *Config) { c.MaxSessions = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
