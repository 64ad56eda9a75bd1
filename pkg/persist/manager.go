package persist

import (
	"context"
	"errors"
	"sync"

	"github.com/pulse-dev/pulse/pkg/state"
)

// Manager groups the adapters of an application behind one store, so
// session lifecycle code can act on every persisted cell at once.
type Manager struct {
	store Store
	opts  []AdapterOption

	mu       sync.Mutex
	adapters []*Adapter
}

// NewManager creates a manager. The options are applied to every
// adapter it creates.
func NewManager(store Store, opts ...AdapterOption) *Manager {
	return &Manager{store: store, opts: opts}
}

// Watch starts persisting a cell and returns its adapter.
func (m *Manager) Watch(cell state.AnyCell) *Adapter {
	a := NewAdapter(cell, m.store, m.opts...)
	m.mu.Lock()
	m.adapters = append(m.adapters, a)
	m.mu.Unlock()
	return a
}

func (m *Manager) all() []*Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Adapter, len(m.adapters))
	copy(out, m.adapters)
	return out
}

// RestoreAll loads every persisted cell value for a session. Failures
// are collected; cells that restore cleanly keep their values even when
// others fail.
func (m *Manager) RestoreAll(ctx context.Context, sessionID string) error {
	var errs []error
	for _, a := range m.all() {
		if err := a.Restore(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelAll drops every pending save for a session. Called on
// disconnect.
func (m *Manager) CancelAll(sessionID string) {
	for _, a := range m.all() {
		a.Cancel(sessionID)
	}
}

// FlushAll saves every watched cell for a session immediately.
func (m *Manager) FlushAll(sessionID string) {
	for _, a := range m.all() {
		a.Flush(sessionID)
	}
}

// DeleteAll removes every persisted value for a session. Called on
// permanent session removal.
func (m *Manager) DeleteAll(ctx context.Context, sessionID string) error {
	var errs []error
	for _, a := range m.all() {
		if err := a.Delete(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispose detaches every adapter.
func (m *Manager) Dispose() {
	for _, a := range m.all() {
		a.Dispose()
	}
}
