// Package protocol defines the JSON documents exchanged with clients over a
// session's bidirectional channel. The transport accept/handshake layer is
// external; this package only shapes and decodes messages.
package protocol

import "encoding/json"

// Message type discriminators (the "type" field of every document).
const (
	// TypeInit is sent once, on connect: the full cell state for the session.
	TypeInit = "init"

	// TypeUpdate carries a debounced flush of changed cell values.
	TypeUpdate = "update"

	// TypeBatch carries an explicit batch commit as ordered key/value pairs.
	TypeBatch = "batch"

	// TypeError reports a middleware rejection to the client.
	TypeError = "error"

	// TypeEvent is the only client→server type: a named interaction payload.
	TypeEvent = "event"
)

// Stable error codes carried by TypeError messages.
const (
	CodeRateLimit       = "RATE_LIMIT"
	CodeValidationError = "VALIDATION_ERROR"
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeTimeout         = "TIMEOUT"
)

// Init is the one-time full-state message sent on connect.
type Init struct {
	Type      string         `json:"type"`
	State     map[string]any `json:"state"`
	SessionID string         `json:"sessionId"`
}

// NewInit builds an init message for a session.
func NewInit(sessionID string, state map[string]any) *Init {
	return &Init{Type: TypeInit, State: state, SessionID: sessionID}
}

// Update carries the coalesced cell changes of one debounce window.
type Update struct {
	Type    string         `json:"type"`
	Changes map[string]any `json:"changes"`
}

// NewUpdate builds an update message.
func NewUpdate(changes map[string]any) *Update {
	return &Update{Type: TypeUpdate, Changes: changes}
}

// Change is one cell write inside a batch message.
type Change struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Batch carries all writes of one batch commit in a single message.
type Batch struct {
	Type    string   `json:"type"`
	Changes []Change `json:"changes"`
}

// NewBatch builds a batch message.
func NewBatch(changes []Change) *Batch {
	return &Batch{Type: TypeBatch, Changes: changes}
}

// Error reports a middleware rejection. Code is one of the Code* constants.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewError builds an error message.
func NewError(code, message string) *Error {
	return &Error{Type: TypeError, Message: message, Code: code}
}

// ClientEvent is a named, data-carrying message from a client.
// Data stays raw so middleware and bindings can inspect it cheaply.
type ClientEvent struct {
	Type string          `json:"type"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}
