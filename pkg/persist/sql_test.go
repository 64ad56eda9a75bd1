package persist

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, WithSQLDialect(DialectSQLite))
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Errorf("Get missing = %v, %v", ok, err)
	}

	if err := store.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := store.Get(ctx, "a")
	if err != nil || !ok || string(v) != "1" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}

	// Upsert replaces.
	if err := store.Set(ctx, "a", []byte("2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, _, _ = store.Get(ctx, "a")
	if string(v) != "2" {
		t.Errorf("upserted value = %q, want 2", v)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Error("deleted key still present")
	}
}

func TestSQLStoreKeys(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	store.Set(ctx, "state:counter:s1", []byte("1"))
	store.Set(ctx, "state:counter:s2", []byte("2"))
	store.Set(ctx, "state:name:s1", []byte(`"x"`))

	keys, err := store.Keys(ctx, "state:counter:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "state:counter:s1" || keys[1] != "state:counter:s2" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestSQLStoreClosed(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	store.Close()

	if err := store.Set(ctx, "a", []byte("1")); err != ErrStoreClosed {
		t.Errorf("Set after close = %v, want ErrStoreClosed", err)
	}
	if _, _, err := store.Get(ctx, "a"); err != ErrStoreClosed {
		t.Errorf("Get after close = %v, want ErrStoreClosed", err)
	}
}
