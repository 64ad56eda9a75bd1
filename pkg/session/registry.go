package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/pulse-dev/pulse/pkg/state"
)

// Registry exclusively owns the lifetime of Session objects. Removal
// cascades: every registered cell's per-session value is purged and
// removal hooks (persistence cancellation, metrics) run exactly once.
type Registry struct {
	sessions cmap.ConcurrentMap[string, *Session]
	cells    *state.Registry
	cfg      *Config
	logger   *slog.Logger

	onCreate func(*Session)
	onRemove func(*Session)
	onFlush  func(*Session, int)
	hookMu   sync.RWMutex

	totalCreated atomic.Uint64
	totalRemoved atomic.Uint64

	done        chan struct{}
	cleanupDone chan struct{}
	shutdown    atomic.Bool
}

// NewRegistry creates a session registry over the given cell registry and
// starts the idle-cleanup loop.
func NewRegistry(cells *state.Registry, cfg *Config, logger *slog.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sessions:    cmap.New[*Session](),
		cells:       cells,
		cfg:         cfg,
		logger:      logger.With("component", "session_registry"),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Create allocates a session with a fresh ID. A nil channel creates a
// server-side-only session that drops flushes silently.
func (r *Registry) Create(channel Channel) (*Session, error) {
	return r.CreateWithID(uuid.NewString(), channel)
}

// CreateWithID allocates a session under a caller-chosen ID. Used when a
// reconnecting client resumes a previously persisted session.
func (r *Registry) CreateWithID(id string, channel Channel) (*Session, error) {
	if r.cfg.MaxSessions > 0 && r.sessions.Count() >= r.cfg.MaxSessions {
		return nil, ErrMaxSessionsReached
	}

	s := newSession(channel, r.cfg, r.logger)
	s.ID = id
	s.logger = r.logger.With("session_id", id)
	s.onFlush = func(count int) { r.notifyFlush(s, count) }
	if !r.sessions.SetIfAbsent(id, s) {
		return nil, ErrDuplicateSession
	}
	r.totalCreated.Add(1)

	r.hookMu.RLock()
	onCreate := r.onCreate
	r.hookMu.RUnlock()
	if onCreate != nil {
		onCreate(s)
	}

	r.logger.Info("session created",
		"session_id", id,
		"connected", channel != nil,
		"active_sessions", r.sessions.Count())

	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Remove deletes the session and purges its value from every registered
// cell. Idempotent: removing an unknown or already-removed id returns nil.
func (r *Registry) Remove(id string) *Session {
	s, ok := r.sessions.Pop(id)
	if !ok {
		return nil
	}

	s.Close()
	r.cells.ClearSession(id)
	r.totalRemoved.Add(1)

	r.hookMu.RLock()
	onRemove := r.onRemove
	r.hookMu.RUnlock()
	if onRemove != nil {
		onRemove(s)
	}

	r.logger.Info("session removed",
		"session_id", id,
		"active_sessions", r.sessions.Count())

	return s
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	return r.sessions.Count()
}

// Each calls fn for every session. Return false to stop early.
func (r *Registry) Each(fn func(*Session) bool) {
	for item := range r.sessions.IterBuffered() {
		if !fn(item.Val) {
			return
		}
	}
}

// Broadcast sends a document to every connected session, best effort.
// A failure for one recipient is logged and does not abort the rest.
func (r *Registry) Broadcast(v any) {
	for item := range r.sessions.IterBuffered() {
		s := item.Val
		if !s.Connected() {
			continue
		}
		if err := s.Send(v); err != nil {
			r.logger.Warn("broadcast send failed",
				"session_id", s.ID,
				"error", err)
		}
	}
}

// SetOnFlush sets the callback invoked after each update message is
// delivered, with the session and the number of cell changes it carried.
// Used by the transport layer to count outbound updates.
func (r *Registry) SetOnFlush(fn func(*Session, int)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onFlush = fn
}

func (r *Registry) notifyFlush(s *Session, count int) {
	r.hookMu.RLock()
	onFlush := r.onFlush
	r.hookMu.RUnlock()
	if onFlush != nil {
		onFlush(s, count)
	}
}

// SetOnCreate sets the callback invoked after each session is created.
func (r *Registry) SetOnCreate(fn func(*Session)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onCreate = fn
}

// SetOnRemove sets the callback invoked after each session is removed.
// The server wires persistence cancellation and metrics here.
func (r *Registry) SetOnRemove(fn func(*Session)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onRemove = fn
}

// Stats returns aggregate registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:       r.sessions.Count(),
		TotalCreated: r.totalCreated.Load(),
		TotalRemoved: r.totalRemoved.Load(),
	}
}

// Stats contains aggregate registry counters.
type Stats struct {
	Active       int
	TotalCreated uint64
	TotalRemoved uint64
}

// cleanupLoop periodically removes idle sessions and checks memory pressure.
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.removeExpired()
			r.checkMemoryPressure()
		case <-r.done:
			return
		}
	}
}

// removeExpired removes sessions idle longer than IdleTimeout.
func (r *Registry) removeExpired() {
	now := time.Now()
	var expired []string
	for item := range r.sessions.IterBuffered() {
		if now.Sub(item.Val.LastActive()) > r.cfg.IdleTimeout {
			expired = append(expired, item.Key)
		}
	}
	for _, id := range expired {
		r.Remove(id)
	}
	if len(expired) > 0 {
		r.logger.Info("removed expired sessions",
			"count", len(expired),
			"remaining", r.sessions.Count())
	}
}

// EvictLRU removes the count least-recently-active sessions.
func (r *Registry) EvictLRU(count int) int {
	if count <= 0 {
		return 0
	}

	type entry struct {
		id     string
		active time.Time
	}
	entries := make([]entry, 0, r.sessions.Count())
	for item := range r.sessions.IterBuffered() {
		entries = append(entries, entry{id: item.Key, active: item.Val.LastActive()})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].active.Before(entries[j].active)
	})

	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if r.Remove(entries[i].id) != nil {
			evicted++
		}
	}

	if evicted > 0 {
		r.logger.Warn("evicted LRU sessions",
			"count", evicted,
			"remaining", r.sessions.Count())
	}
	return evicted
}

// Shutdown stops the cleanup loop, flushes every session's pending updates
// and removes all sessions. Honors ctx for the removal pass.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.shutdown.Swap(true) {
		return nil
	}

	close(r.done)
	<-r.cleanupDone

	ids := r.sessions.Keys()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if s, ok := r.sessions.Get(id); ok {
				s.Flush()
			}
			r.Remove(id)
		}(id)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Info("session registry shutdown", "closed_sessions", len(ids))
	return nil
}
