package persist

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("persist: store is closed")

// Store is a flat key/value backend for persisted cell values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a value. The second return is false when the key
	// does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value, overwriting any previous one.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists all keys with the given prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-memory store for tests and single-process
// deployments. Values do not survive a restart. With a TTL configured,
// a background janitor removes expired entries.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]memoryEntry
	ttl     time.Duration
	stop    chan struct{}
	stopped sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL expires entries that have not been written for d.
// Zero means entries never expire.
func WithMemoryTTL(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		m.ttl = d
	}
}

// NewMemoryStore creates an empty in-memory store. Call Close to stop
// the cleanup goroutine when a TTL is set.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		values: make(map[string]memoryEntry),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl > 0 {
		go m.cleanupLoop()
	}
	return m
}

func (m *MemoryStore) cleanupLoop() {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) removeExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.values {
		if e.expired(now) {
			delete(m.values, k)
		}
	}
}

// Get retrieves a value.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.values[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a value.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	e := memoryEntry{value: v}
	if m.ttl > 0 {
		e.expiresAt = time.Now().Add(m.ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = e
	return nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys lists keys with the given prefix, sorted.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k, e := range m.values {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys, including any expired entries
// the janitor has not collected yet.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Close stops the cleanup goroutine. The store remains usable.
func (m *MemoryStore) Close() {
	m.stopped.Do(func() { close(m.stop) })
}
