package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []string // base64-encoded image attachments
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel     string
	ChatID      string
	Content     string
	Format      string       // text | markdown
	StreamEvent *StreamEvent // optional: for streaming delivery
}

// StreamEventType classifies a streaming delivery event.
type StreamEventType string

const (
	// StreamThinking signals that a turn is being processed.
	StreamThinking StreamEventType = "thinking"
	// StreamSnapshot carries the full accumulated text so far. Surfaces
	// replace the displayed message with it; applying the same snapshot
	// twice is harmless.
	StreamSnapshot StreamEventType = "snapshot"
	// StreamDone carries the final text of the turn.
	StreamDone StreamEventType = "done"
	// StreamError carries an error string that replaces the in-progress text.
	StreamError StreamEventType = "error"
)

// StreamEvent is a single streaming delivery event for a conversation surface.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}

// MessageRecord is one fetched unit of conversation from a messaging backend.
// Read-only downstream; adapters produce it, nothing mutates it.
type MessageRecord struct {
	ID        string
	Sender    string
	Subject   string
	Excerpt   string
	Timestamp time.Time
	FullBody  string // optional
}
