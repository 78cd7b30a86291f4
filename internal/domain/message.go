package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags who produced a conversation entry and how it renders.
type Kind string

const (
	KindUser   Kind = "user"
	KindAgent  Kind = "agent"
	KindSystem Kind = "system"
	KindError  Kind = "error" // a failure surfaced to the user as a chat entry
)

// Valid reports whether k is one of the four known tags.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindAgent, KindSystem, KindError:
		return true
	}
	return false
}

// TimestampLayout is the display format for message timestamps.
// Timestamps are display-only; log order is always arrival order.
const TimestampLayout = "15:04:05"

// Message is one conversation entry. The ID is unique within a session and
// exists for list rendering and deduplication, never for ordering.
type Message struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewMessage creates a Message with a fresh ID and a local display timestamp.
func NewMessage(kind Kind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().Format(TimestampLayout),
	}
}

// Outbound is the client-to-agent wire envelope.
type Outbound struct {
	Intent  string `json:"intent"`
	Content string `json:"content"`
}

// Known outbound intents.
const (
	IntentUserMessage = "user_message"
	IntentVoiceInput  = "voice_input"
)

// inboundWire mirrors the agent-to-client JSON envelope.
type inboundWire struct {
	Kind      Kind   `json:"kind"`
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParseInbound decodes an agent-to-client frame into a Message. Only agent,
// system, and error kinds are accepted inbound; anything else is reported as
// ErrMalformedPayload. The message gets a locally assigned ID; the sender's
// timestamp is kept when present.
func ParseInbound(data []byte) (Message, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch w.Kind {
	case KindAgent, KindSystem, KindError:
	default:
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedPayload, w.Kind)
	}

	msg := NewMessage(w.Kind, w.Content)
	msg.Sender = w.Sender
	if w.Timestamp != "" {
		msg.Timestamp = w.Timestamp
	}
	return msg, nil
}
