package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pulse-dev/pulse/pkg/state"
)

func newTestRegistry(t *testing.T, cfg *Config) (*Registry, *state.Registry) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	cells := state.NewRegistry()
	r := NewRegistry(cells, cfg, slog.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, cells
}

func TestRegistryCreateGetRemove(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	s, err := r.Create(&fakeChannel{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" {
		t.Error("created session has empty ID")
	}
	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Errorf("Get = %v, %v", got, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	if removed := r.Remove(s.ID); removed != s {
		t.Errorf("Remove returned %v, want the session", removed)
	}
	if !s.Closed() {
		t.Error("removed session is not closed")
	}
	if removed := r.Remove(s.ID); removed != nil {
		t.Error("second Remove returned a session, want nil")
	}
	if r.Count() != 0 {
		t.Errorf("Count after remove = %d, want 0", r.Count())
	}
}

func TestRegistryRemoveClearsCells(t *testing.T) {
	r, cells := newTestRegistry(t, nil)
	counter := state.NewCell("counter", 0)
	cells.MustAdd(counter)

	s, _ := r.Create(nil)
	counter.Set(s.ID, 42)

	r.Remove(s.ID)
	if got := counter.Get(s.ID); got != 0 {
		t.Errorf("cell value after removal = %d, want default 0", got)
	}
}

func TestRegistryMaxSessions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	r, _ := newTestRegistry(t, cfg)

	if _, err := r.Create(nil); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := r.Create(nil); err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if _, err := r.Create(nil); !errors.Is(err, ErrMaxSessionsReached) {
		t.Errorf("third Create = %v, want ErrMaxSessionsReached", err)
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	if _, err := r.CreateWithID("abc", nil); err != nil {
		t.Fatalf("CreateWithID: %v", err)
	}
	if _, err := r.CreateWithID("abc", nil); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("duplicate CreateWithID = %v, want ErrDuplicateSession", err)
	}

	// After removal the ID is free again.
	r.Remove("abc")
	if _, err := r.CreateWithID("abc", nil); err != nil {
		t.Errorf("CreateWithID after remove: %v", err)
	}
}

func TestRegistryHooks(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	var created, removed int
	r.SetOnCreate(func(*Session) { created++ })
	r.SetOnRemove(func(*Session) { removed++ })

	s, _ := r.Create(nil)
	r.Remove(s.ID)
	r.Remove(s.ID) // hook must not fire twice

	if created != 1 || removed != 1 {
		t.Errorf("hooks fired create=%d remove=%d, want 1/1", created, removed)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	good := &fakeChannel{}
	bad := &fakeChannel{err: errors.New("gone")}
	r.Create(good)
	r.Create(bad)
	r.Create(nil) // channel-less sessions are skipped

	r.Broadcast("hello")

	if got := len(good.messages()); got != 1 {
		t.Errorf("healthy recipient got %d messages, want 1", got)
	}
}

func TestRegistryEvictLRU(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	oldest, _ := r.Create(nil)
	middle, _ := r.Create(nil)
	newest, _ := r.Create(nil)

	// Order activity explicitly; creation order is not guaranteed distinct.
	oldest.lastActive.Store(time.Now().Add(-3 * time.Hour).UnixNano())
	middle.lastActive.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	newest.Touch()

	if n := r.EvictLRU(2); n != 2 {
		t.Fatalf("EvictLRU = %d, want 2", n)
	}
	if _, ok := r.Get(oldest.ID); ok {
		t.Error("oldest session survived eviction")
	}
	if _, ok := r.Get(middle.ID); ok {
		t.Error("middle session survived eviction")
	}
	if _, ok := r.Get(newest.ID); !ok {
		t.Error("newest session was evicted")
	}
}

func TestRegistryIdleCleanup(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	r, _ := newTestRegistry(t, cfg)

	idle, _ := r.Create(nil)
	busy, _ := r.Create(nil)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		busy.Touch()
		if _, ok := r.Get(idle.ID); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := r.Get(idle.ID); ok {
		t.Error("idle session was not removed")
	}
	if _, ok := r.Get(busy.ID); !ok {
		t.Error("active session was removed")
	}
}

func TestRegistryShutdownFlushes(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	ch := &fakeChannel{}
	s, _ := r.Create(ch)
	s.QueueUpdate("counter", 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := len(ch.updates()); got != 1 {
		t.Errorf("pending update not flushed on shutdown: %d messages", got)
	}
	if r.Count() != 0 {
		t.Errorf("sessions remain after shutdown: %d", r.Count())
	}
	if err := r.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestRegistryStats(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	a, _ := r.Create(nil)
	r.Create(nil)
	r.Remove(a.ID)

	stats := r.Stats()
	if stats.Active != 1 || stats.TotalCreated != 2 || stats.TotalRemoved != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRegistryOnFlushObservesUpdates(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	type flushed struct {
		id    string
		count int
	}
	got := make(chan flushed, 1)
	r.SetOnFlush(func(s *Session, count int) {
		got <- flushed{id: s.ID, count: count}
	})

	ch := &fakeChannel{}
	s, err := r.Create(ch)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.QueueUpdate("counter", 1)
	s.QueueUpdate("name", "ada")

	select {
	case f := <-got:
		if f.id != s.ID || f.count != 2 {
			t.Errorf("flush hook got %+v, want session %s with 2 changes", f, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("flush hook never fired")
	}

	// A failed send reports nothing.
	ch.mu.Lock()
	ch.err = errors.New("conn gone")
	ch.mu.Unlock()
	s.QueueUpdate("counter", 2)
	waitFlush()
	select {
	case f := <-got:
		t.Errorf("flush hook fired for failed send: %+v", f)
	default:
	}
}
