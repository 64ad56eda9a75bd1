package state

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Computed is a read-only cell whose per-session value is derived from other
// cells and cached until a dependency changes for that session.
//
// Invalidation is lazy: a dependency change evicts the session's cache entry
// only; recomputation happens on the next Get. There is no Set: writing a
// derived value is a programming error the type system prevents.
type Computed[T any] struct {
	name    string
	compute func(sessionID string) T
	cache   cmap.ConcurrentMap[string, T]
	unsubs  []Unsubscribe
}

// NewComputed creates a derived cell over the given dependencies.
// It subscribes to every dependency; a change for session S evicts only
// S's cache entry.
func NewComputed[T any](name string, compute func(sessionID string) T, deps ...AnyCell) *Computed[T] {
	c := &Computed[T]{
		name:    name,
		compute: compute,
		cache:   cmap.New[T](),
	}
	for _, dep := range deps {
		c.unsubs = append(c.unsubs, dep.SubscribeAny(func(sessionID string, _ any) {
			c.cache.Remove(sessionID)
		}))
	}
	return c
}

// Name returns the computed cell's name.
func (c *Computed[T]) Name() string { return c.name }

// Get returns the cached value for the session, computing and caching it
// first if no valid entry exists.
func (c *Computed[T]) Get(sessionID string) T {
	if v, ok := c.cache.Get(sessionID); ok {
		return v
	}
	v := c.compute(sessionID)
	c.cache.Set(sessionID, v)
	return v
}

// GetAny implements Derived for registry snapshots.
func (c *Computed[T]) GetAny(sessionID string) any {
	return c.Get(sessionID)
}

// ClearSession evicts the session's cache entry.
func (c *Computed[T]) ClearSession(sessionID string) {
	c.cache.Remove(sessionID)
}

// Dispose unsubscribes from all dependencies and drops the cache.
func (c *Computed[T]) Dispose() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.cache.Clear()
}
