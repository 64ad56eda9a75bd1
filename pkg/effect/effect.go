// Package effect runs server-side reactions to cell changes: plain
// effects that fire on any change of their cells, and watches that
// deliver old and new values for a single cell.
package effect

import (
	"sync/atomic"

	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

// Effect is a server-side reaction to cell changes. It fires once per
// change of any of its cells, with the live session the change belongs
// to. Changes for sessions no longer in the registry are skipped.
type Effect struct {
	sessions *session.Registry
	unsubs   []state.Unsubscribe
	disabled atomic.Bool
	disposed atomic.Bool
}

// On registers fn to run whenever any of the given cells changes.
// The effect stays active until Dispose is called.
func On(sessions *session.Registry, fn func(s *session.Session, value any), cells ...state.AnyCell) *Effect {
	e := &Effect{sessions: sessions}
	for _, cell := range cells {
		unsub := cell.SubscribeAny(func(sessionID string, value any) {
			if e.disposed.Load() || e.disabled.Load() {
				return
			}
			s, ok := sessions.Get(sessionID)
			if !ok {
				return
			}
			fn(s, value)
		})
		e.unsubs = append(e.unsubs, unsub)
	}
	return e
}

// Enable resumes a disabled effect.
func (e *Effect) Enable() {
	e.disabled.Store(false)
}

// Disable pauses the effect; changes while disabled are dropped, not
// queued.
func (e *Effect) Disable() {
	e.disabled.Store(true)
}

// Enabled reports whether the effect currently fires.
func (e *Effect) Enabled() bool {
	return !e.disabled.Load() && !e.disposed.Load()
}

// Dispose permanently detaches the effect from its cells. Idempotent.
func (e *Effect) Dispose() {
	if e.disposed.Swap(true) {
		return
	}
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
}
