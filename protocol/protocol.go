// Package protocol defines the wire format spoken between the relay, the
// producer bridge, and consumers: newline-free JSON text messages over a
// persistent websocket, discriminated by a "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeAuth     = "auth"     // session -> relay
	TypeAuthOK   = "auth_ok"  // relay -> session
	TypeGet      = "get"      // consumer -> relay
	TypeRequest  = "request"  // relay -> producer
	TypeResponse = "response" // producer -> relay -> consumer
)

// Session roles.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error tags carried in the "error" field of an error response.
const (
	ErrUnknownResource = "unknown_resource"
	ErrProducerOffline = "producer_offline"
	ErrSendFailed      = "send_failed"
	ErrTimeout         = "timeout"
)

// Websocket close codes used when rejecting a session during authentication.
// The exact values are relay-internal; the contract is only that distinct
// failure reasons close with distinct codes.
const (
	CloseAuthFailed   = 4000 // timeout, read error, or malformed JSON
	CloseAuthExpected = 4001 // first message was not an auth message
	CloseInvalidToken = 4002 // unrecognized role or token mismatch
)

// Message is the single envelope for every message on the wire. Fields are
// populated according to the message type; unused fields are omitted.
type Message struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Token     string          `json:"token,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Params    map[string]any  `json:"params,omitempty"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Parse decodes raw bytes into a Message. Parsing is deliberately permissive:
// only non-JSON payloads and envelopes without a type are rejected. Unknown
// types and missing fields are the caller's problem, per the relay's
// discard-don't-disconnect policy.
func Parse(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("protocol: malformed message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: missing message type")
	}
	return &msg, nil
}

// Auth builds the authentication message a session sends first.
func Auth(role, token string) *Message {
	return &Message{Type: TypeAuth, Role: role, Token: token}
}

// AuthOK builds the acknowledgement the relay sends on successful auth.
func AuthOK(role string) *Message {
	return &Message{Type: TypeAuthOK, Role: role}
}

// Get builds a consumer data request. requestID may be empty, in which case
// the relay assigns one.
func Get(resource string, params map[string]any, requestID string) *Message {
	return &Message{Type: TypeGet, Resource: resource, Params: params, RequestID: requestID}
}

// Request builds the forwarded request the relay sends to the producer.
// Absent params stay absent on the wire; the producer treats a missing
// params object the same as an empty one.
func Request(requestID, resource string, params map[string]any) *Message {
	return &Message{Type: TypeRequest, RequestID: requestID, Resource: resource, Params: params}
}

// OKResponse builds a successful response carrying a data payload.
func OKResponse(requestID string, data json.RawMessage) *Message {
	return &Message{Type: TypeResponse, RequestID: requestID, Status: StatusOK, Data: data}
}

// ErrorResponse builds a synthesized error response with one of the error
// tags defined above.
func ErrorResponse(requestID, tag string) *Message {
	return &Message{Type: TypeResponse, RequestID: requestID, Status: StatusError, Error: tag}
}
