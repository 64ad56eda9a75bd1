package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/protocol"
)

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	// Limit is the maximum number of events allowed per Window.
	Limit int

	// Window is the sliding window the limit applies over.
	Window time.Duration

	// KeyFunc derives the bucket key for an event. Defaults to the
	// session ID, so each session gets its own budget. Key per event
	// name with something like ec.Session.ID + ":" + ec.Name to limit
	// individual events instead.
	KeyFunc func(ec *event.Context) string

	// Message is sent to the client when the limit is hit.
	Message string
}

// slidingWindow tracks per-key hit timestamps. Expired entries for a key
// are trimmed on each hit; a full sweep once per window drops keys that
// stopped hitting entirely, so departed sessions do not accumulate.
type slidingWindow struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		hits:      make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

func (w *slidingWindow) allow(key string, now time.Time) bool {
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.lastSweep) >= w.window {
		w.sweepLocked(cutoff)
		w.lastSweep = now
	}

	window := trimExpired(w.hits[key], cutoff)
	allowed := len(window) < w.limit
	if allowed {
		window = append(window, now)
	}
	if len(window) == 0 {
		delete(w.hits, key)
	} else {
		w.hits[key] = window
	}
	return allowed
}

// sweepLocked drops fully expired keys. Caller holds mu.
func (w *slidingWindow) sweepLocked(cutoff time.Time) {
	for key, window := range w.hits {
		window = trimExpired(window, cutoff)
		if len(window) == 0 {
			delete(w.hits, key)
		} else {
			w.hits[key] = window
		}
	}
}

func trimExpired(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	return window[i:]
}

func (w *slidingWindow) keyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// RateLimit creates middleware enforcing a sliding-window event rate
// limit. When a session exceeds the limit, the chain stops, the client
// receives a RATE_LIMIT error, and ErrRateLimited is returned.
func RateLimit(config RateLimitConfig) Middleware {
	if config.Limit <= 0 {
		config.Limit = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.KeyFunc == nil {
		config.KeyFunc = func(ec *event.Context) string { return ec.Session.ID }
	}
	if config.Message == "" {
		config.Message = "too many events, slow down"
	}

	buckets := newSlidingWindow(config.Limit, config.Window)

	return func(ctx context.Context, ec *event.Context, next Next) error {
		if !buckets.allow(config.KeyFunc(ec), time.Now()) {
			ec.Stop()
			_ = ec.Session.Send(protocol.NewError(protocol.CodeRateLimit, config.Message))
			return ErrRateLimited
		}
		return next(ctx)
	}
}
