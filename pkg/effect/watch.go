package effect

import (
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

// Watch observes a single cell and delivers both the previous and the
// new value on every change. The first change a session produces sees
// the cell's default as the previous value.
type Watch struct {
	sessions *session.Registry
	cell     state.AnyCell
	prev     cmap.ConcurrentMap[string, any]
	unsub    state.Unsubscribe
	disposed atomic.Bool
}

// NewWatch registers fn to run on every change of cell, with the value
// it replaced. Call ClearSession when a session is removed so its shadow
// entry is released; entries are otherwise kept for the watch lifetime.
func NewWatch(sessions *session.Registry, cell state.AnyCell, fn func(s *session.Session, old, new any)) *Watch {
	w := &Watch{
		sessions: sessions,
		cell:     cell,
		prev:     cmap.New[any](),
	}
	w.unsub = cell.SubscribeAny(func(sessionID string, value any) {
		if w.disposed.Load() {
			return
		}
		var old any
		w.prev.Upsert(sessionID, value, func(exist bool, valueInMap, newValue any) any {
			if exist {
				old = valueInMap
			} else {
				old = cell.Default()
			}
			return newValue
		})
		s, ok := sessions.Get(sessionID)
		if !ok {
			w.prev.Remove(sessionID)
			return
		}
		if state.Equal(old, value) {
			return
		}
		fn(s, old, value)
	})
	return w
}

// ClearSession drops the shadow entry for a removed session.
func (w *Watch) ClearSession(sessionID string) {
	w.prev.Remove(sessionID)
}

// Dispose detaches the watch and releases all shadow state. Idempotent.
func (w *Watch) Dispose() {
	if w.disposed.Swap(true) {
		return
	}
	w.unsub()
	w.prev.Clear()
}
