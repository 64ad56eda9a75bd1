package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Decode errors.
var (
	// ErrNotEvent is returned for client documents whose type is not "event".
	ErrNotEvent = errors.New("protocol: message is not an event")

	// ErrMissingName is returned for events without a non-empty name.
	ErrMissingName = errors.New("protocol: event missing name")
)

// DecodeClientEvent parses a raw client document into a ClientEvent.
// The type and name fields are sniffed with gjson before the full unmarshal
// so malformed or foreign documents are rejected cheaply.
func DecodeClientEvent(raw []byte) (*ClientEvent, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("protocol: invalid JSON document")
	}
	if gjson.GetBytes(raw, "type").String() != TypeEvent {
		return nil, ErrNotEvent
	}
	if gjson.GetBytes(raw, "name").String() == "" {
		return nil, ErrMissingName
	}

	ev := &ClientEvent{}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("protocol: decode event: %w", err)
	}
	return ev, nil
}

// EventValue extracts the "value" field from a raw event payload.
// Returns false if the payload has no value field. This is the fast path
// used by direct cell bindings.
func EventValue(data []byte) (any, bool) {
	if len(data) == 0 {
		return nil, false
	}
	res := gjson.GetBytes(data, "value")
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}
