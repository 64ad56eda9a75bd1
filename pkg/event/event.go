// Package event routes named client events to bound cells and registered
// handlers. Events exist only for the duration of one dispatch.
package event

import (
	"encoding/json"
	"sync/atomic"

	"github.com/pulse-dev/pulse/pkg/protocol"
	"github.com/pulse-dev/pulse/pkg/session"
)

// Event is a named, data-carrying message from a client.
type Event struct {
	// Name identifies the event (e.g. "counter:increment", "name:input").
	Name string

	// Data is the decoded structured payload.
	Data map[string]any

	// Raw is the original JSON payload when the event arrived over the
	// wire; nil for server-constructed events.
	Raw json.RawMessage
}

// New builds a server-side event from already-structured data.
func New(name string, data map[string]any) *Event {
	return &Event{Name: name, Data: data}
}

// FromWire converts a decoded protocol event, unmarshalling its payload.
// An unparseable payload yields an event with nil Data; middleware and
// bindings still see the raw bytes.
func FromWire(ev *protocol.ClientEvent) *Event {
	e := &Event{Name: ev.Name, Raw: ev.Data}
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &e.Data)
	}
	return e
}

// Context is the middleware-visible wrapper around one event dispatch.
// Data is mutable: a middleware may rewrite it for downstream stages.
// Meta is a scratch map for inter-middleware communication.
type Context struct {
	Session *session.Session
	Name    string
	Data    map[string]any
	Raw     json.RawMessage
	Meta    map[string]any

	stopped atomic.Bool
}

// NewContext builds the dispatch context for an event on a session.
func NewContext(s *session.Session, ev *Event) *Context {
	return &Context{
		Session: s,
		Name:    ev.Name,
		Data:    ev.Data,
		Raw:     ev.Raw,
		Meta:    make(map[string]any),
	}
}

// Stop halts the chain: no further middleware or the terminal handler runs.
// Idempotent, and purely a flag: middleware that stops the chain is
// responsible for any client-visible error message it wants sent.
func (c *Context) Stop() {
	c.stopped.Store(true)
}

// Stopped reports whether the chain has been stopped.
func (c *Context) Stopped() bool {
	return c.stopped.Load()
}

// SetData replaces the payload for downstream stages, keeping Raw in sync
// so bindings observe the rewritten payload.
func (c *Context) SetData(data map[string]any) {
	c.Data = data
	if b, err := json.Marshal(data); err == nil {
		c.Raw = b
	} else {
		c.Raw = nil
	}
}

// Event rebuilds the Event view of this context.
func (c *Context) Event() *Event {
	return &Event{Name: c.Name, Data: c.Data, Raw: c.Raw}
}
