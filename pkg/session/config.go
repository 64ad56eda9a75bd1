package session

import "time"

// Config holds tuning knobs shared by sessions and the registry.
type Config struct {
	// DebounceWindow is how long a session waits after the first queued
	// update before flushing, so bursts collapse into one message.
	// Default: 10ms.
	DebounceWindow time.Duration

	// IdleTimeout is how long an inactive session survives before the
	// cleanup loop removes it. Default: 5 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is how often the cleanup loop runs. Default: 30s.
	CleanupInterval time.Duration

	// MaxSessions caps concurrent sessions. 0 means no limit. Default: 0.
	MaxSessions int

	// MaxProcessMemory triggers LRU eviction when the process RSS exceeds
	// it. 0 disables the check. Default: 0.
	MaxProcessMemory uint64

	// EvictBatch is how many sessions one memory-pressure pass evicts.
	// Default: 10.
	EvictBatch int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceWindow:  10 * time.Millisecond,
		IdleTimeout:     5 * time.Minute,
		CleanupInterval: 30 * time.Second,
		MaxSessions:     0,
		EvictBatch:      10,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
