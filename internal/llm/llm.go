// Package llm resolves model names to providers and prices, and adapts the
// OpenAI and Anthropic SDKs to a single chat interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnsupportedModel is returned for model names missing from the catalog.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrUnimplementedProvider is returned when a catalog provider has no client.
	ErrUnimplementedProvider = errors.New("unimplemented provider")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role       string
	Content    string
	ToolCallID string     // set on RoleTool messages
	ToolCalls  []ToolCall // set on RoleAssistant messages that requested tools
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
}

// ToolCall is a model request to run a tool. Arguments is raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Request is a provider-neutral chat request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int64
}

// Usage is the token count for one provider call. Estimated is set when the
// counts were derived from text length rather than reported by the provider.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Estimated    bool
}

// Response is the result of a non-streaming chat call. Usage is nil when the
// provider did not report it.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// StreamCallback receives each text chunk in order. Returning an error stops
// the stream.
type StreamCallback func(chunk string) error

// Provider is a chat-capable LLM backend.
type Provider interface {
	// Name returns the provider name used in the catalog.
	Name() string

	// Chat sends a request and waits for the full response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream sends a request and calls fn for every text chunk. The
	// returned usage is nil when the provider reports none.
	ChatStream(ctx context.Context, req Request, fn StreamCallback) (*Usage, error)
}

// ProviderError wraps a failure returned by a provider SDK.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// EstimateTokens approximates the token count of s at four characters per
// token, rounding up.
func EstimateTokens(s string) int64 {
	return int64((len(s) + 3) / 4)
}

// fromFirst returns msgs starting at the first message whose role is in
// roles. System turns before it are kept. A trimmed memory window may begin
// mid-exchange, which some provider APIs reject.
func fromFirst(msgs []Message, roles ...string) []Message {
	for i, m := range msgs {
		if slices.Contains(roles, m.Role) {
			if i == 0 {
				return msgs
			}
			out := make([]Message, 0, len(msgs))
			for _, lead := range msgs[:i] {
				if lead.Role == RoleSystem {
					out = append(out, lead)
				}
			}
			return append(out, msgs[i:]...)
		}
	}
	return msgs
}
