package types

import (
	"time"
)

// Target selects how the router handles a request
type Target string

// Request targets accepted on the wire
const (
	TargetHello    Target = "hello"
	TargetAll      Target = "all"
	TargetOneToOne Target = "one_to_one"
	TargetStatus   Target = "status"
)

// ReceiverAll is the receiver stored for broadcast messages
const ReceiverAll = "all"

// Request is a single client request frame
// FUNCTIONAL DISCOVERY: Target defaults to "all" when omitted so plain
// {"username":..,"message":..} frames behave as broadcasts
type Request struct {
	Username string `json:"username"`
	Target   Target `json:"target"`
	Receiver string `json:"receiver,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Message is a persisted chat message. Immutable once stored.
type Message struct {
	ID       int64     `json:"id"`
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// IsBroadcast reports whether the message was addressed to everyone
func (m *Message) IsBroadcast() bool {
	return m.Receiver == ReceiverAll
}

// User is a registry entry. The record is never deleted.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	RegisteredAt time.Time `json:"registered_at"`
	MessageCount int       `json:"message_count"`
}
