package state

import (
	"errors"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// ErrDuplicateCell is returned when a cell name is registered twice.
var ErrDuplicateCell = errors.New("state: duplicate cell name")

// Derived is the read-only registry surface of a computed cell: it has a
// name and per-session values but cannot be written from outside.
type Derived interface {
	Name() string
	GetAny(sessionID string) any
	ClearSession(sessionID string)
}

// Registry is the process-wide name → cell table. It is append-mostly:
// cells register at application-composition time and the table is read-heavy
// thereafter. Pass it explicitly rather than relying on a package global.
type Registry struct {
	cells   cmap.ConcurrentMap[string, AnyCell]
	derived cmap.ConcurrentMap[string, Derived]
}

// NewRegistry creates an empty cell registry.
func NewRegistry() *Registry {
	return &Registry{
		cells:   cmap.New[AnyCell](),
		derived: cmap.New[Derived](),
	}
}

// Add registers a cell under its name.
// Returns ErrDuplicateCell if the name is already taken.
func (r *Registry) Add(cell AnyCell) error {
	if r.derived.Has(cell.Name()) {
		return fmt.Errorf("%w: %q", ErrDuplicateCell, cell.Name())
	}
	if ok := r.cells.SetIfAbsent(cell.Name(), cell); !ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCell, cell.Name())
	}
	return nil
}

// AddDerived registers a read-only derived cell. Derived cells appear in
// SnapshotFor, so clients receive computed values in the init message,
// and their caches are purged on session cleanup.
// Returns ErrDuplicateCell if the name is already taken.
func (r *Registry) AddDerived(d Derived) error {
	if r.cells.Has(d.Name()) {
		return fmt.Errorf("%w: %q", ErrDuplicateCell, d.Name())
	}
	if ok := r.derived.SetIfAbsent(d.Name(), d); !ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCell, d.Name())
	}
	return nil
}

// MustAddDerived registers a derived cell and panics on a duplicate name.
func (r *Registry) MustAddDerived(d Derived) {
	if err := r.AddDerived(d); err != nil {
		panic(err)
	}
}

// MustAdd registers a cell and panics on a duplicate name.
// Registration happens at composition time, so a duplicate is a programming
// mistake, not a runtime condition.
func (r *Registry) MustAdd(cell AnyCell) {
	if err := r.Add(cell); err != nil {
		panic(err)
	}
}

// Get returns the cell registered under name.
func (r *Registry) Get(name string) (AnyCell, bool) {
	return r.cells.Get(name)
}

// Count returns the number of registered cells.
func (r *Registry) Count() int {
	return r.cells.Count()
}

// Each calls fn for every registered cell. Return false to stop early.
func (r *Registry) Each(fn func(cell AnyCell) bool) {
	for item := range r.cells.IterBuffered() {
		if !fn(item.Val) {
			return
		}
	}
}

// SnapshotFor returns the current value of every registered cell,
// writable and derived, for the session, keyed by cell name. Used to
// build the init message on connect.
func (r *Registry) SnapshotFor(sessionID string) map[string]any {
	snapshot := make(map[string]any, r.cells.Count()+r.derived.Count())
	for item := range r.cells.IterBuffered() {
		snapshot[item.Key] = item.Val.GetAny(sessionID)
	}
	for item := range r.derived.IterBuffered() {
		snapshot[item.Key] = item.Val.GetAny(sessionID)
	}
	return snapshot
}

// ClearSession purges the session's entry from every registered cell,
// including derived caches. Sessions and cells are many-to-many: a
// session's destruction must be broadcast to every cell, not the reverse.
func (r *Registry) ClearSession(sessionID string) {
	for item := range r.cells.IterBuffered() {
		item.Val.ClearSession(sessionID)
	}
	for item := range r.derived.IterBuffered() {
		item.Val.ClearSession(sessionID)
	}
}
