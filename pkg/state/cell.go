package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Unsubscribe deterministically removes a previously registered subscriber.
// Calling it more than once is a no-op.
type Unsubscribe func()

// Callback receives change notifications for a cell: the session whose value
// changed and the new value.
type Callback[T any] func(sessionID string, value T)

// AnyCell is the type-erased view of a Cell used by the registry, event
// bindings, batches, effects and persistence adapters.
type AnyCell interface {
	// Name returns the cell's process-wide unique name.
	Name() string

	// Default returns the shared default value.
	Default() any

	// GetAny returns the session's value, or the default if the session has
	// never written one.
	GetAny(sessionID string) any

	// SetAny stores a dynamically typed value for the session, coercing
	// JSON-shaped values (float64, map[string]any, ...) into the cell's
	// value type. It behaves exactly like the typed Set: equal values are a
	// no-op and changes notify subscribers.
	SetAny(sessionID string, value any) error

	// StoreQuiet stores a value without notifying subscribers. Used by
	// batches, which deliver their own combined message.
	StoreQuiet(sessionID string, value any) error

	// ClearSession removes the session's entry, reverting reads to the
	// default. No notification is delivered; this is cleanup, not a change
	// a client should observe.
	ClearSession(sessionID string)

	// SubscribeAny registers a type-erased synchronous subscriber.
	SubscribeAny(fn func(sessionID string, value any)) Unsubscribe
}

// Cell is a named reactive value container holding one value per session.
// Sessions that never wrote share the default, so late joiners see a sane
// value with zero setup cost.
//
// Set with a structurally equal value is a no-op: no write, no notification.
type Cell[T any] struct {
	name string
	def  T

	// values is sparse: an absent entry means "use the default".
	values cmap.ConcurrentMap[string, T]

	// subs are notified in subscription order for a given Set.
	subs  []subscriber[T]
	subMu sync.RWMutex

	// equal overrides structural equality when set.
	equal func(T, T) bool

	logger *slog.Logger
}

type subscriber[T any] struct {
	id    uint64
	fn    Callback[T]
	async bool
}

// CellOption configures a Cell at construction time.
type CellOption[T any] func(*Cell[T])

// WithEquals overrides the equality function used for the no-op-on-equal
// rule. Useful when reflect.DeepEqual is too expensive or semantically wrong.
func WithEquals[T any](fn func(T, T) bool) CellOption[T] {
	return func(c *Cell[T]) {
		c.equal = fn
	}
}

// WithCellLogger sets the logger used for swallowed subscriber failures.
func WithCellLogger[T any](logger *slog.Logger) CellOption[T] {
	return func(c *Cell[T]) {
		c.logger = logger.With("cell", c.name)
	}
}

// NewCell creates a cell with the given name and default value.
// Cells are created at application-composition time and live for the
// process lifetime; register them with a Registry for bulk operations.
func NewCell[T any](name string, def T, opts ...CellOption[T]) *Cell[T] {
	c := &Cell[T]{
		name:   name,
		def:    def,
		values: cmap.New[T](),
		logger: slog.Default().With("cell", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the cell's process-wide unique name.
func (c *Cell[T]) Name() string { return c.name }

// Default returns the shared default value.
func (c *Cell[T]) Default() any { return c.def }

// Get returns the session's value, or the default if the session never set
// one. Never fails.
func (c *Cell[T]) Get(sessionID string) T {
	if v, ok := c.values.Get(sessionID); ok {
		return v
	}
	return c.def
}

// Set stores value for the session and notifies subscribers.
// If value is structurally equal to the current value the call is a no-op.
// The equality check and the write happen atomically with respect to
// concurrent writers to the same (cell, session) pair.
func (c *Cell[T]) Set(sessionID string, value T) {
	var changed bool
	c.values.Upsert(sessionID, value, func(exist bool, cur T, nv T) T {
		prev := c.def
		if exist {
			prev = cur
		}
		if c.equals(prev, nv) {
			changed = false
			return prev
		}
		changed = true
		return nv
	})
	if changed {
		c.notify(sessionID, value)
	}
}

// Update atomically applies fn to the session's current value and stores the
// result, returning it. Notification follows the same rules as Set.
func (c *Cell[T]) Update(sessionID string, fn func(T) T) T {
	var newValue T
	var changed bool
	var zero T
	c.values.Upsert(sessionID, zero, func(exist bool, cur T, _ T) T {
		prev := c.def
		if exist {
			prev = cur
		}
		newValue = fn(prev)
		changed = !c.equals(prev, newValue)
		if !changed {
			return prev
		}
		return newValue
	})
	if changed {
		c.notify(sessionID, newValue)
	}
	return newValue
}

// Subscribe registers a synchronous subscriber. Subscribers are invoked
// inline from Set in subscription order; a panicking subscriber is logged
// and does not prevent later subscribers from running.
func (c *Cell[T]) Subscribe(fn Callback[T]) Unsubscribe {
	return c.subscribe(fn, false)
}

// SubscribeAsync registers a subscriber that runs on its own goroutine.
// Execution is scheduled but not awaited by Set; failures are logged and
// never surface to the writer.
func (c *Cell[T]) SubscribeAsync(fn Callback[T]) Unsubscribe {
	return c.subscribe(fn, true)
}

func (c *Cell[T]) subscribe(fn Callback[T], async bool) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	id := nextSubID()

	c.subMu.Lock()
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn, async: async})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				// Preserve subscription order for the remaining subscribers.
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAny implements AnyCell.
func (c *Cell[T]) SubscribeAny(fn func(sessionID string, value any)) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	return c.Subscribe(func(sessionID string, value T) {
		fn(sessionID, value)
	})
}

// ClearSession removes the session's entry without notifying.
func (c *Cell[T]) ClearSession(sessionID string) {
	c.values.Remove(sessionID)
}

// GetAny implements AnyCell.
func (c *Cell[T]) GetAny(sessionID string) any {
	return c.Get(sessionID)
}

// SetAny implements AnyCell.
func (c *Cell[T]) SetAny(sessionID string, value any) error {
	v, err := c.coerce(value)
	if err != nil {
		return err
	}
	c.Set(sessionID, v)
	return nil
}

// StoreQuiet implements AnyCell. The write is visible to subsequent reads
// but delivers no subscriber notification.
func (c *Cell[T]) StoreQuiet(sessionID string, value any) error {
	v, err := c.coerce(value)
	if err != nil {
		return err
	}
	c.values.Set(sessionID, v)
	return nil
}

// coerce converts a dynamically typed value into T. Values arriving from
// JSON payloads or storage round-trip through encoding/json so that e.g.
// float64 coerces into an int cell.
func (c *Cell[T]) coerce(value any) (T, error) {
	if v, ok := value.(T); ok {
		return v, nil
	}
	var v T
	b, err := json.Marshal(value)
	if err != nil {
		return v, fmt.Errorf("state: cell %q: unsupported value %T: %w", c.name, value, err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("state: cell %q: cannot coerce %T: %w", c.name, value, err)
	}
	return v, nil
}

// notify delivers a change to every subscriber.
// Copy-before-notify keeps the lock out of subscriber code.
func (c *Cell[T]) notify(sessionID string, value T) {
	c.subMu.RLock()
	subs := make([]subscriber[T], len(c.subs))
	copy(subs, c.subs)
	c.subMu.RUnlock()

	for _, sub := range subs {
		if sub.async {
			go c.invoke(sub, sessionID, value)
		} else {
			c.invoke(sub, sessionID, value)
		}
	}
}

// invoke runs one subscriber with panic isolation. One faulty subscriber
// must not break the others or the triggering Set.
func (c *Cell[T]) invoke(sub subscriber[T], sessionID string, value T) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panic",
				"session_id", sessionID,
				"panic", r)
		}
	}()
	sub.fn(sessionID, value)
}

func (c *Cell[T]) equals(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return defaultEquals(a, b)
}
