// Package batch groups multiple cell writes into one atomic client
// message. Writes inside a batch skip the normal per-cell notification
// path; the client sees all of them at once on commit.
package batch

import (
	"log/slog"
	"sync"

	"github.com/pulse-dev/pulse/pkg/protocol"
	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

// Batch collects cell writes for one session. Each write updates the
// cell immediately, so reads during the batch observe the new values,
// but subscribers and the outbound queue stay silent until Commit.
//
// A Batch is single-use: Set after Commit and a second Commit are
// usage errors and panic.
type Batch struct {
	session *session.Session

	mu        sync.Mutex
	order     []string
	changes   map[string]any
	committed bool
}

// New starts a batch for the session.
func New(s *session.Session) *Batch {
	return &Batch{
		session: s,
		changes: make(map[string]any),
	}
}

// Set writes a value to the cell without notifying subscribers. A later
// Set for the same cell within the batch wins; the client sees only the
// final value.
func (b *Batch) Set(cell state.AnyCell, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		panic("batch: Set called after Commit")
	}
	if err := cell.StoreQuiet(b.session.ID, value); err != nil {
		return err
	}
	if _, seen := b.changes[cell.Name()]; !seen {
		b.order = append(b.order, cell.Name())
	}
	b.changes[cell.Name()] = value
	return nil
}

// Len returns the number of distinct cells written so far.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Commit sends every write as a single batch message. An empty batch
// sends nothing. Send failures are logged, not returned; the state is
// already applied either way.
func (b *Batch) Commit() {
	b.mu.Lock()
	if b.committed {
		b.mu.Unlock()
		panic("batch: Commit called twice")
	}
	b.committed = true
	changes := make([]protocol.Change, 0, len(b.order))
	for _, key := range b.order {
		changes = append(changes, protocol.Change{Key: key, Value: b.changes[key]})
	}
	b.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	if err := b.session.Send(protocol.NewBatch(changes)); err != nil {
		b.session.Logger().Warn("batch send failed",
			slog.String("session", b.session.ID),
			slog.Int("changes", len(changes)),
			slog.Any("error", err))
	}
}

// Scope runs fn with a fresh batch and commits it afterwards, including
// when fn panics.
func Scope(s *session.Session, fn func(b *Batch)) {
	b := New(s)
	defer b.Commit()
	fn(b)
}
