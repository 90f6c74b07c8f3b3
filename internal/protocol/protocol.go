// Package protocol defines the wire contract Clawline speaks with the chat
// gateway: the JSON envelope exchanged over the WebSocket, the method and
// event vocabulary, error codes, and the typed payloads for the connect
// handshake and chat event stream.
//
// The package is a static contract with no behavior beyond (de)serialization.
// All inbound payloads are decoded here, once, at the transport boundary;
// nothing downstream works on untyped maps.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the gateway protocol version this client speaks.
const Version = 3

// Envelope is the wire format for every frame on the socket.
//
// Client → server requests carry {id, method, params}. Server → client
// responses carry {id} plus exactly one of {result} or {error}. Unsolicited
// server pushes carry {event, payload} and no id.
type Envelope struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorShape     `json:"error,omitempty"`

	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// FrameKind classifies an inbound envelope.
type FrameKind int

const (
	// KindUnknown is an envelope that is neither a response nor an event.
	KindUnknown FrameKind = iota
	// KindResponse is a reply to a client request (has an id).
	KindResponse
	// KindEvent is an unsolicited server push (has an event name).
	KindEvent
)

// Kind classifies the envelope. Responses win over events when both fields
// are present, which a conforming gateway never sends.
func (e *Envelope) Kind() FrameKind {
	switch {
	case e.ID != "":
		return KindResponse
	case e.Event != "":
		return KindEvent
	default:
		return KindUnknown
	}
}

// ParseEnvelope decodes raw bytes read from the socket into an Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: malformed envelope: %w", err)
	}
	return &env, nil
}

// NewRequest builds a request envelope with params marshaled in place.
func NewRequest(id, method string, params any) (*Envelope, error) {
	env := &Envelope{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s params: %w", method, err)
		}
		env.Params = raw
	}
	return env, nil
}

// NewEvent builds an event envelope with the payload marshaled in place.
func NewEvent(event string, payload any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return env, nil
}
