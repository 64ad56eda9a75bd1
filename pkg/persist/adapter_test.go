package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pulse-dev/pulse/pkg/state"
)

// countingStore wraps a MemoryStore and counts writes.
type countingStore struct {
	*MemoryStore
	mu   sync.Mutex
	sets int
}

func (c *countingStore) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.MemoryStore.Set(ctx, key, value)
}

func (c *countingStore) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func waitSave() {
	time.Sleep(60 * time.Millisecond)
}

func TestAdapterDebouncedSave(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(10*time.Millisecond))
	defer a.Dispose()

	// A burst of writes produces one storage operation with the latest value.
	counter.Set("s1", 1)
	counter.Set("s1", 2)
	counter.Set("s1", 3)
	waitSave()

	if got := store.setCount(); got != 1 {
		t.Errorf("store saw %d writes, want 1", got)
	}
	data, ok, err := store.Get(ctx, "state:counter:s1")
	if err != nil || !ok {
		t.Fatalf("Get: %v, %v", ok, err)
	}
	if string(data) != "3" {
		t.Errorf("persisted %s, want 3", data)
	}
}

func TestAdapterSavesPerSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(10*time.Millisecond))
	defer a.Dispose()

	counter.Set("s1", 1)
	counter.Set("s2", 2)
	waitSave()

	keys, _ := store.Keys(ctx, "state:counter:")
	if len(keys) != 2 {
		t.Errorf("keys = %v, want one per session", keys)
	}
}

func TestAdapterRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(10*time.Millisecond))
	defer a.Dispose()

	counter.Set("s1", 42)
	waitSave()
	counter.ClearSession("s1")

	// Restore goes through the normal set path so subscribers see it.
	notified := 0
	counter.Subscribe(func(string, int) { notified++ })

	if err := a.Restore(ctx, "s1"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := counter.Get("s1"); got != 42 {
		t.Errorf("restored value = %d, want 42", got)
	}
	if notified != 1 {
		t.Errorf("restore notified %d times, want 1", notified)
	}

	// Restoring a session with no persisted value leaves the default.
	if err := a.Restore(ctx, "fresh"); err != nil {
		t.Fatalf("Restore fresh: %v", err)
	}
	if got := counter.Get("fresh"); got != 0 {
		t.Errorf("fresh session = %d, want default 0", got)
	}
}

func TestAdapterCancel(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(10*time.Millisecond))
	defer a.Dispose()

	counter.Set("s1", 1)
	a.Cancel("s1")
	waitSave()

	if got := store.setCount(); got != 0 {
		t.Errorf("cancelled save still wrote %d times", got)
	}
}

func TestAdapterFlush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(time.Hour))
	defer a.Dispose()

	counter.Set("s1", 5)
	a.Flush("s1")

	data, ok, _ := store.Get(ctx, "state:counter:s1")
	if !ok || string(data) != "5" {
		t.Errorf("Flush persisted %s, %v", data, ok)
	}
}

func TestAdapterDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(10*time.Millisecond))
	defer a.Dispose()

	counter.Set("s1", 5)
	a.Flush("s1")

	if err := a.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "state:counter:s1"); ok {
		t.Error("value survived Delete")
	}

	// A later restore sees nothing and leaves the default.
	counter.ClearSession("s1")
	if err := a.Restore(ctx, "s1"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := counter.Get("s1"); got != 0 {
		t.Errorf("restored deleted value: %d", got)
	}
}

func TestAdapterDispose(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	counter := state.NewCell("counter", 0)

	a := NewAdapter(counter, store, WithDebounce(10*time.Millisecond))

	counter.Set("s1", 1)
	a.Dispose()
	a.Dispose() // idempotent
	counter.Set("s1", 2)
	waitSave()

	if got := store.setCount(); got != 0 {
		t.Errorf("disposed adapter wrote %d times", got)
	}
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	counter := state.NewCell("counter", 0)
	name := state.NewCell("name", "")

	m := NewManager(store, WithDebounce(10*time.Millisecond))
	defer m.Dispose()
	m.Watch(counter)
	m.Watch(name)

	counter.Set("s1", 7)
	name.Set("s1", "ada")
	m.FlushAll("s1")

	counter.ClearSession("s1")
	name.ClearSession("s1")

	if err := m.RestoreAll(ctx, "s1"); err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	if counter.Get("s1") != 7 || name.Get("s1") != "ada" {
		t.Errorf("restored counter=%d name=%q", counter.Get("s1"), name.Get("s1"))
	}

	if err := m.DeleteAll(ctx, "s1"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d keys after DeleteAll", store.Len())
	}
}

func TestManagerCancelAll(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	counter := state.NewCell("counter", 0)

	m := NewManager(store, WithDebounce(10*time.Millisecond))
	defer m.Dispose()
	m.Watch(counter)

	counter.Set("s1", 1)
	m.CancelAll("s1")
	waitSave()

	if got := store.setCount(); got != 0 {
		t.Errorf("cancelled saves still wrote %d times", got)
	}
}
