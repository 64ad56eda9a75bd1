package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulse-dev/pulse/pkg/protocol"
)

// Channel is the outbound half of a client connection. The transport layer
// supplies an implementation per accepted connection; server-side-only
// sessions have none.
type Channel interface {
	// SendJSON serializes and delivers one document to the client.
	SendJSON(v any) error
}

// Session is one logical client connection: an opaque identity, optional
// outbound channel, arbitrary metadata, and the pending-update map that
// coalesces cell changes into debounced update messages.
type Session struct {
	// ID is the opaque unique session identifier.
	ID string

	// CreatedAt is when the session was accepted.
	CreatedAt time.Time

	channel Channel

	// lastActive is unix nanoseconds, updated on every touch.
	lastActive atomic.Int64

	// metadata is arbitrary per-session data. Protected by metaMu.
	metadata map[string]any
	metaMu   sync.RWMutex

	// pending holds queued cell updates awaiting flush. Protected by
	// pendingMu, which also guards flushTimer.
	pending    map[string]any
	pendingMu  sync.Mutex
	flushTimer *time.Timer

	// flushScheduled enforces at most one scheduled flush per session:
	// a new update while a flush is pending merges into the same map.
	flushScheduled atomic.Bool

	// onFlush, when set, observes each update message that reached the
	// channel, with the number of cell changes it carried.
	onFlush func(count int)

	debounce time.Duration
	closed   atomic.Bool
	logger   *slog.Logger
}

// newSession builds a session with a fresh UUID.
func newSession(channel Channel, cfg *Config, logger *slog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		channel:   channel,
		metadata:  make(map[string]any),
		pending:   make(map[string]any),
		debounce:  cfg.DebounceWindow,
		logger:    logger.With("session_id", id),
	}
	s.Touch()
	return s
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the last-activity timestamp.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Connected reports whether the session has an outbound channel.
func (s *Session) Connected() bool {
	return s.channel != nil
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// QueueUpdate merges a cell change into the pending map and schedules a
// flush after the debounce window if none is scheduled yet. Bursts of
// updates within the window collapse into a single update message.
func (s *Session) QueueUpdate(cellName string, value any) {
	if s.closed.Load() {
		return
	}

	s.pendingMu.Lock()
	s.pending[cellName] = value
	s.pendingMu.Unlock()

	if s.flushScheduled.CompareAndSwap(false, true) {
		timer := time.AfterFunc(s.debounce, s.flush)
		s.pendingMu.Lock()
		s.flushTimer = timer
		s.pendingMu.Unlock()
	}
}

// flush swaps out the pending map and, if non-empty, sends one update
// message. A session without a channel drops the flush silently.
func (s *Session) flush() {
	// Clear the flag first: an update arriving during the send schedules
	// the next window instead of being lost.
	s.flushScheduled.Store(false)

	s.pendingMu.Lock()
	changes := s.pending
	s.pending = make(map[string]any)
	s.flushTimer = nil
	s.pendingMu.Unlock()

	if len(changes) == 0 || s.channel == nil || s.closed.Load() {
		return
	}

	if err := s.channel.SendJSON(protocol.NewUpdate(changes)); err != nil {
		s.logger.Error("update send failed", "error", err, "changes", len(changes))
		return
	}
	if s.onFlush != nil {
		s.onFlush(len(changes))
	}
}

// Flush forces an immediate flush of any pending updates, cancelling the
// scheduled one. Used on shutdown so queued changes are not lost.
func (s *Session) Flush() {
	s.pendingMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.pendingMu.Unlock()
	s.flush()
}

// SendInit sends the one-time init message with the session's full cell
// state. No debounce: clients need their state before anything else.
func (s *Session) SendInit(state map[string]any) error {
	if s.channel == nil {
		return ErrNoChannel
	}
	return s.channel.SendJSON(protocol.NewInit(s.ID, state))
}

// Send delivers an arbitrary document to the client, best effort.
func (s *Session) Send(v any) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.channel == nil {
		return ErrNoChannel
	}
	return s.channel.SendJSON(v)
}

// Get retrieves a metadata value. Returns nil if the key doesn't exist.
func (s *Session) Get(key string) any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.metadata[key]
}

// Set stores a metadata value. Values must be safe for concurrent access.
func (s *Session) Set(key string, value any) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.metadata[key] = value
}

// Delete removes a metadata key.
func (s *Session) Delete(key string) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	delete(s.metadata, key)
}

// GetString returns a metadata value as a string, or "" when absent or not
// a string.
func (s *Session) GetString(key string) string {
	if v, ok := s.Get(key).(string); ok {
		return v
	}
	return ""
}

// Close marks the session closed and cancels any scheduled flush.
// Idempotent; queued updates are discarded.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}

	s.pendingMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.pending = make(map[string]any)
	s.pendingMu.Unlock()
}
