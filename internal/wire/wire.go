// Package wire encodes and decodes the delimiter-framed messages exchanged
// with display clients over the WebSocket.
//
// Inbound:  topic[$]id[$]content
// Outbound: source[$]contentType[$]content
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates the three segments of every message.
const Delimiter = "[$]"

// ErrMalformedMessage is returned when a message does not split into exactly
// three usable segments.
var ErrMalformedMessage = errors.New("malformed message")

// ContentType classifies an outbound event.
type ContentType string

const (
	Message       ContentType = "MESSAGE"
	MessageStream ContentType = "MESSAGE_STREAM"
	System        ContentType = "SYSTEM"
	Error         ContentType = "ERROR"
	Info          ContentType = "INFO"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case Message, MessageStream, System, Error, Info:
		return true
	}
	return false
}

// Sentinel sources for events not emitted by an agent.
const (
	SourceRuntime      = "RUNTIME"
	SourceAgentManager = "AGENT_MANAGER"
	SourceLedger       = "LEDGER"
)

// Topic is the category of an inbound message.
type Topic string

const (
	TopicConversation Topic = "conversation"
	TopicTask         Topic = "task"
)

// Event is one outbound message.
type Event struct {
	Source  string
	Type    ContentType
	Content string
}

// String encodes e as source[$]contentType[$]content.
func (e Event) String() string {
	return e.Source + Delimiter + string(e.Type) + Delimiter + e.Content
}

// Encode returns the wire bytes for e.
func (e Event) Encode() []byte {
	return []byte(e.String())
}

// DecodeEvent parses an outbound message. The content segment may itself
// contain the delimiter; only the first two occurrences split.
func DecodeEvent(raw string) (Event, error) {
	parts := strings.SplitN(raw, Delimiter, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Event{}, fmt.Errorf("wire: decode event: %w", ErrMalformedMessage)
	}
	t := ContentType(parts[1])
	if !t.Valid() {
		return Event{}, fmt.Errorf("wire: decode event: unknown content type %q: %w", parts[1], ErrMalformedMessage)
	}
	return Event{Source: parts[0], Type: t, Content: parts[2]}, nil
}

// Inbound is one decoded client message.
type Inbound struct {
	Topic   Topic
	ID      string
	Content string
}

// String encodes m as topic[$]id[$]content.
func (m Inbound) String() string {
	return string(m.Topic) + Delimiter + m.ID + Delimiter + m.Content
}

// ParseInbound decodes topic[$]id[$]content. The raw text must split into
// exactly three segments and topic and content must be non-empty. The id may
// be empty only for the task topic, which does not address an agent.
func ParseInbound(raw string) (Inbound, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) != 3 {
		return Inbound{}, fmt.Errorf("wire: parse inbound: %d segments: %w", len(parts), ErrMalformedMessage)
	}
	m := Inbound{Topic: Topic(parts[0]), ID: parts[1], Content: parts[2]}
	if m.Topic == "" {
		return Inbound{}, fmt.Errorf("wire: parse inbound: empty topic: %w", ErrMalformedMessage)
	}
	if m.Content == "" {
		return Inbound{}, fmt.Errorf("wire: parse inbound: empty content: %w", ErrMalformedMessage)
	}
	if m.ID == "" && m.Topic != TopicTask {
		return Inbound{}, fmt.Errorf("wire: parse inbound: empty id: %w", ErrMalformedMessage)
	}
	return m, nil
}

// UsageInfo is the JSON content of the INFO event emitted after a call.
type UsageInfo struct {
	Cost         float64 `json:"cost"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
}

// InfoEvent builds the INFO event carrying v as JSON.
func InfoEvent(source string, v any) Event {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{Source: source, Type: Error, Content: fmt.Sprintf("encode info: %v", err)}
	}
	return Event{Source: source, Type: Info, Content: string(data)}
}

// Publisher accepts outbound events for delivery to display clients.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})
