// ABOUTME: Message model for inter-agent communication over the bus.
// ABOUTME: Defines message types, payload shape, and correlation semantics.

package bus

import (
	"time"

	"github.com/google/uuid"
)

// MessageType categorizes the intent of a message.
type MessageType string

const (
	// MessageTypeGreeting announces an agent joining the bus.
	MessageTypeGreeting MessageType = "greeting"
	// MessageTypeRequest asks another agent to perform an action.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse answers a prior request.
	MessageTypeResponse MessageType = "response"
	// MessageTypeNotification carries an event that needs no reply.
	MessageTypeNotification MessageType = "notification"
	// MessageTypeError reports a failure.
	MessageTypeError MessageType = "error"
)

// Message is a single unit of inter-agent communication. A message is
// immutable once constructed: ownership transfers to the bus on Send and to
// the receiving agent on dequeue. An empty To means broadcast.
type Message struct {
	ID            string         `json:"id"`
	Type          MessageType    `json:"type"`
	From          string         `json:"from_agent"`
	To            string         `json:"to_agent,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewMessage constructs a message with a fresh ID and timestamp.
// Pass an empty to for broadcast.
func NewMessage(msgType MessageType, from, to string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// clone returns a logically independent copy for broadcast fan-out.
// The payload map is copied one level deep; payload values are treated as
// read-only by convention.
func (m *Message) clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}
