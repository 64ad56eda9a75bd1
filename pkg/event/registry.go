package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/pulse-dev/pulse/pkg/protocol"
	"github.com/pulse-dev/pulse/pkg/session"
	"github.com/pulse-dev/pulse/pkg/state"
)

// Handler processes one event on behalf of a session. Returning an error
// records a failure for that handler without affecting the others.
type Handler func(ctx context.Context, ec *Context) error

type entry struct {
	handlers []Handler
	bindings []state.AnyCell
}

// Registry maps event names to bound cells and handlers. Dispatch applies
// bindings first, then runs every handler concurrently and waits for all
// of them to finish.
type Registry struct {
	entries cmap.ConcurrentMap[string, *entry]
	mu      sync.Mutex // serializes registration per name
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for handler failures and panics.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty event registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: cmap.New[*entry](),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On registers a handler for the named event. Multiple handlers may be
// registered for the same name; they all run on each dispatch.
func (r *Registry) On(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries.Get(name)
	if !ok {
		e = &entry{}
	}
	e.handlers = append(e.handlers, h)
	r.entries.Set(name, e)
}

// Bind routes the named event's "value" field straight into a cell.
// The write happens before any handler runs, so handlers observe the
// updated value. An event with no value field leaves the cell untouched.
func (r *Registry) Bind(name string, cell state.AnyCell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries.Get(name)
	if !ok {
		e = &entry{}
	}
	e.bindings = append(e.bindings, cell)
	r.entries.Set(name, e)
}

// Handles reports whether anything is registered for the named event.
func (r *Registry) Handles(name string) bool {
	return r.entries.Has(name)
}

// Dispatch applies bindings and runs all handlers for the event,
// returning after every handler has completed. Handler errors and panics
// are isolated per handler and logged, never returned: one failing
// handler must not mark the event failed for its siblings or the
// middleware above. An event with no registration is a logged no-op.
func (r *Registry) Dispatch(ctx context.Context, s *session.Session, ev *Event) error {
	e, ok := r.entries.Get(ev.Name)
	if !ok {
		r.logger.Debug("unhandled event", "event", ev.Name, "session", s.ID)
		return nil
	}

	for _, cell := range e.bindings {
		v, ok := bindingValue(ev)
		if !ok {
			continue
		}
		if err := cell.SetAny(s.ID, v); err != nil {
			r.logger.Warn("event binding rejected value",
				"event", ev.Name, "cell", cell.Name(), "session", s.ID, "error", err)
		}
	}

	if len(e.handlers) == 0 {
		return nil
	}

	ec := NewContext(s, ev)
	errs := make([]error, len(e.handlers))
	var wg sync.WaitGroup
	for i, h := range e.handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("event: handler panic: %v", rec)
					r.logger.Error("event handler panicked",
						"event", ev.Name, "session", s.ID, "panic", rec)
				}
			}()
			errs[i] = h(ctx, ec)
		}(i, h)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			r.logger.Warn("event handler failed",
				"event", ev.Name, "session", s.ID, "handler", i, "error", err)
		}
	}
	return nil
}

// DispatchContext is the dispatch path used below middleware chains: the
// context has already been built (and possibly rewritten) by the chain.
func (r *Registry) DispatchContext(ctx context.Context, ec *Context) error {
	return r.Dispatch(ctx, ec.Session, ec.Event())
}

// bindingValue extracts the value an event carries for cell bindings,
// preferring the raw wire payload so numeric types survive intact.
func bindingValue(ev *Event) (any, bool) {
	if len(ev.Raw) > 0 {
		if v, ok := protocol.EventValue(ev.Raw); ok {
			return v, true
		}
	}
	if ev.Data != nil {
		if v, ok := ev.Data["value"]; ok {
			return v, true
		}
	}
	return nil, false
}
