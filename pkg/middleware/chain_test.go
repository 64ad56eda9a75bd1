package middleware

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pulse-dev/pulse/pkg/event"
	"github.com/pulse-dev/pulse/pkg/protocol"
	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

type fakeChannel struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeChannel) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeChannel) errorsSent() []*protocol.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Error
	for _, m := range f.sent {
		if e, ok := m.(*protocol.Error); ok {
			out = append(out, e)
		}
	}
	return out
}

func newTestContext(t *testing.T, name string) (*event.Context, *fakeChannel) {
	t.Helper()
	cells := state.NewRegistry()
	sessions := session.NewRegistry(cells, session.DefaultConfig(), slog.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sessions.Shutdown(ctx)
	})
	ch := &fakeChannel{}
	s, err := sessions.Create(ch)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return event.NewContext(s, event.New(name, map[string]any{})), ch
}

func record(name string, log *[]string) Middleware {
	return func(ctx context.Context, ec *event.Context, next Next) error {
		*log = append(*log, name+":before")
		err := next(ctx)
		*log = append(*log, name+":after")
		return err
	}
}

func TestChainOrder(t *testing.T) {
	ec, _ := newTestContext(t, "x")

	var log []string
	chain := NewChain()
	chain.Use(record("a", &log), record("b", &log))

	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		log = append(log, "terminal")
		return nil
	})
	if err := handler(context.Background(), ec); err != nil {
		t.Fatalf("handler: %v", err)
	}

	want := []string{"a:before", "b:before", "terminal", "b:after", "a:after"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

func TestChainStopShortCircuits(t *testing.T) {
	ec, _ := newTestContext(t, "x")

	var afterStop, terminal bool
	chain := NewChain(
		func(ctx context.Context, ec *event.Context, next Next) error {
			ec.Stop()
			return next(ctx)
		},
		func(ctx context.Context, ec *event.Context, next Next) error {
			afterStop = true
			return next(ctx)
		},
	)
	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		terminal = true
		return nil
	})

	if err := handler(context.Background(), ec); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if afterStop {
		t.Error("middleware after Stop still ran")
	}
	if terminal {
		t.Error("terminal handler ran after Stop")
	}
}

func TestChainEmptyRunsTerminal(t *testing.T) {
	ec, _ := newTestContext(t, "x")

	ran := false
	handler := NewChain().Then(func(ctx context.Context, ec *event.Context) error {
		ran = true
		return nil
	})
	if err := handler(context.Background(), ec); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !ran {
		t.Error("terminal did not run through empty chain")
	}
}

func TestRateLimit(t *testing.T) {
	chain := NewChain(RateLimit(RateLimitConfig{Limit: 3, Window: time.Minute}))

	passed := 0
	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		passed++
		return nil
	})

	ec, ch := newTestContext(t, "spam")
	var lastErr error
	for range 5 {
		// A fresh context per dispatch; the stop flag is per event.
		ec2 := event.NewContext(ec.Session, event.New("spam", nil))
		lastErr = handler(context.Background(), ec2)
	}

	if passed != 3 {
		t.Errorf("%d events passed, want 3", passed)
	}
	if !errors.Is(lastErr, ErrRateLimited) {
		t.Errorf("last dispatch error = %v, want ErrRateLimited", lastErr)
	}
	errs := ch.errorsSent()
	if len(errs) != 2 {
		t.Fatalf("client got %d error messages, want 2", len(errs))
	}
	if errs[0].Code != protocol.CodeRateLimit {
		t.Errorf("error code = %q, want %q", errs[0].Code, protocol.CodeRateLimit)
	}
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	mw := RateLimit(RateLimitConfig{Limit: 1, Window: time.Minute})
	handler := NewChain(mw).Then(func(ctx context.Context, ec *event.Context) error {
		return nil
	})

	ecA, _ := newTestContext(t, "x")
	ecB, _ := newTestContext(t, "x")

	if err := handler(context.Background(), ecA); err != nil {
		t.Fatalf("first session: %v", err)
	}
	if err := handler(context.Background(), ecB); err != nil {
		t.Errorf("second session limited by first: %v", err)
	}
}

func TestValidation(t *testing.T) {
	chain := NewChain(Validation(map[string]Validator{
		"form:submit": Require("value"),
	}))
	terminal := 0
	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		terminal++
		return nil
	})

	// Missing field rejects.
	ec, ch := newTestContext(t, "form:submit")
	if err := handler(context.Background(), ec); err == nil {
		t.Error("invalid payload passed validation")
	}
	if terminal != 0 {
		t.Error("terminal ran for rejected event")
	}
	errs := ch.errorsSent()
	if len(errs) != 1 || errs[0].Code != protocol.CodeValidationError {
		t.Errorf("client errors = %v", errs)
	}

	// Valid payload passes.
	ec2, _ := newTestContext(t, "form:submit")
	ec2.Data = map[string]any{"value": "ok"}
	if err := handler(context.Background(), ec2); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	// Events without a validator pass untouched.
	ec3, _ := newTestContext(t, "other")
	if err := handler(context.Background(), ec3); err != nil {
		t.Errorf("unvalidated event rejected: %v", err)
	}
	if terminal != 2 {
		t.Errorf("terminal ran %d times, want 2", terminal)
	}
}

func TestAuth(t *testing.T) {
	chain := NewChain(Auth(AuthConfig{Public: []string{"login"}}))
	terminal := 0
	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		terminal++
		return nil
	})

	// Unauthenticated, private event.
	ec, ch := newTestContext(t, "secret")
	if err := handler(context.Background(), ec); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	errs := ch.errorsSent()
	if len(errs) != 1 || errs[0].Code != protocol.CodeAuthRequired {
		t.Errorf("client errors = %v", errs)
	}

	// Public event bypasses the check.
	ec2, _ := newTestContext(t, "login")
	if err := handler(context.Background(), ec2); err != nil {
		t.Errorf("public event rejected: %v", err)
	}

	// Authenticated session passes.
	ec3, _ := newTestContext(t, "secret")
	ec3.Session.Set("user", "ada")
	if err := handler(context.Background(), ec3); err != nil {
		t.Errorf("authenticated event rejected: %v", err)
	}
	if terminal != 2 {
		t.Errorf("terminal ran %d times, want 2", terminal)
	}
}

func TestTransform(t *testing.T) {
	chain := NewChain(Transform(func(name string, data map[string]any) map[string]any {
		if name != "name:input" {
			return nil
		}
		return map[string]any{"value": "rewritten"}
	}))

	var seen map[string]any
	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		seen = ec.Data
		return nil
	})

	ec, _ := newTestContext(t, "name:input")
	ec.Data = map[string]any{"value": "original"}
	if err := handler(context.Background(), ec); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen["value"] != "rewritten" {
		t.Errorf("downstream saw %v, want rewritten payload", seen)
	}

	ec2, _ := newTestContext(t, "other")
	ec2.Data = map[string]any{"value": "original"}
	if err := handler(context.Background(), ec2); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen["value"] != "original" {
		t.Errorf("nil transform rewrote payload: %v", seen)
	}
}

func TestTimeout(t *testing.T) {
	chain := NewChain(Timeout(20 * time.Millisecond))

	handler := chain.Then(func(ctx context.Context, ec *event.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ec, ch := newTestContext(t, "slow")
	start := time.Now()
	err := handler(context.Background(), ec)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v", elapsed)
	}
	errs := ch.errorsSent()
	if len(errs) != 1 || errs[0].Code != protocol.CodeTimeout {
		t.Errorf("client errors = %v", errs)
	}

	// Fast work is unaffected.
	ec2, _ := newTestContext(t, "fast")
	fast := chain.Then(func(ctx context.Context, ec *event.Context) error { return nil })
	if err := fast(context.Background(), ec2); err != nil {
		t.Errorf("fast handler: %v", err)
	}
}

func TestSlidingWindowDropsIdleKeys(t *testing.T) {
	w := newSlidingWindow(5, time.Minute)
	base := time.Now()

	for i := range 3 {
		if !w.allow("gone", base.Add(time.Duration(i)*time.Second)) {
			t.Fatal("hit under limit denied")
		}
	}
	if got := w.keyCount(); got != 1 {
		t.Fatalf("keyCount = %d, want 1", got)
	}

	// Over a window later a hit on a different key sweeps the idle one.
	if !w.allow("active", base.Add(2*time.Minute)) {
		t.Fatal("fresh key denied")
	}
	if got := w.keyCount(); got != 1 {
		t.Errorf("keyCount after sweep = %d, want only the active key", got)
	}

	// A key whose window fully expired is dropped on its own next hit
	// rather than re-stored empty.
	if !w.allow("active", base.Add(4*time.Minute)) {
		t.Fatal("expired key denied on re-hit")
	}
	if got := w.keyCount(); got != 1 {
		t.Errorf("keyCount after re-hit = %d, want 1", got)
	}
}
