package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/pulse-dev/pulse/pkg/state"
)

// DefaultDebounce is the save debounce used when none is configured.
// Long compared to the outbound flush window; storage is slower and
// values survive a crash of at most this staleness.
const DefaultDebounce = 2 * time.Second

// Adapter persists one cell. Every change arms a per-session timer;
// when it fires the latest value is written to the store, so rapid
// writes collapse into one storage operation.
type Adapter struct {
	cell     state.AnyCell
	store    Store
	prefix   string
	debounce time.Duration
	logger   *slog.Logger

	timers   cmap.ConcurrentMap[string, *time.Timer]
	unsub    state.Unsubscribe
	disposed atomic.Bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithDebounce sets the save debounce window.
func WithDebounce(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.debounce = d
	}
}

// WithPrefix sets the key prefix. Default: "state".
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		a.prefix = prefix
	}
}

// WithAdapterLogger sets the logger for save failures.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter starts persisting the cell's changes to the store.
func NewAdapter(cell state.AnyCell, store Store, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		cell:     cell,
		store:    store,
		prefix:   "state",
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		timers:   cmap.New[*time.Timer](),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.unsub = cell.SubscribeAny(func(sessionID string, _ any) {
		a.schedule(sessionID)
	})
	return a
}

// key layout: <prefix>:<cell>:<session>.
func (a *Adapter) key(sessionID string) string {
	return a.prefix + ":" + a.cell.Name() + ":" + sessionID
}

func (a *Adapter) schedule(sessionID string) {
	if a.disposed.Load() {
		return
	}
	a.timers.Upsert(sessionID, nil, func(exist bool, t, _ *time.Timer) *time.Timer {
		if exist {
			t.Reset(a.debounce)
			return t
		}
		return time.AfterFunc(a.debounce, func() {
			a.save(sessionID)
		})
	})
}

// save writes the cell's current value, not the one that armed the
// timer, so intermediate values are skipped.
func (a *Adapter) save(sessionID string) {
	if a.disposed.Load() {
		return
	}
	a.timers.Remove(sessionID)

	data, err := json.Marshal(a.cell.GetAny(sessionID))
	if err != nil {
		a.logger.Error("persist: marshal failed",
			"cell", a.cell.Name(), "session", sessionID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.store.Set(ctx, a.key(sessionID), data); err != nil {
		a.logger.Error("persist: save failed",
			"cell", a.cell.Name(), "session", sessionID, "error", err)
	}
}

// Restore loads the persisted value for a session back into the cell.
// The write goes through the ordinary set path, so subscribers and the
// outbound queue observe it. A session with no persisted value is left
// at the cell default.
func (a *Adapter) Restore(ctx context.Context, sessionID string) error {
	data, ok, err := a.store.Get(ctx, a.key(sessionID))
	if err != nil {
		return fmt.Errorf("persist: restore %s: %w", a.cell.Name(), err)
	}
	if !ok {
		return nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("persist: restore %s: %w", a.cell.Name(), err)
	}
	return a.cell.SetAny(sessionID, value)
}

// Cancel drops any pending save for the session. Used on disconnect so
// a session that is going away does not write after removal.
func (a *Adapter) Cancel(sessionID string) {
	if t, ok := a.timers.Pop(sessionID); ok {
		t.Stop()
	}
}

// Flush saves the session's current value immediately, cancelling any
// pending timer first.
func (a *Adapter) Flush(sessionID string) {
	a.Cancel(sessionID)
	a.save(sessionID)
}

// Delete removes the persisted value for a session, cancelling any
// pending save.
func (a *Adapter) Delete(ctx context.Context, sessionID string) error {
	a.Cancel(sessionID)
	return a.store.Delete(ctx, a.key(sessionID))
}

// Dispose detaches from the cell and stops every pending timer.
// Idempotent.
func (a *Adapter) Dispose() {
	if a.disposed.Swap(true) {
		return
	}
	a.unsub()
	for item := range a.timers.IterBuffered() {
		item.Val.Stop()
	}
	a.timers.Clear()
}
