package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockReply scripts one response from MockProvider.
type MockReply struct {
	Content   string
	Chunks    []string // streamed in order; defaults to Content split into pieces
	ToolCalls []ToolCall
	Usage     *Usage // reported usage; nil means the provider reports none
	Err       error
}

// MockProvider is a deterministic Provider for local runs and tests. Scripted
// replies are consumed in order; once the script is empty it echoes the last
// user message.
type MockProvider struct {
	mu       sync.Mutex
	script   []MockReply
	requests []Request

	// ReportUsage makes echo replies report estimated usage.
	ReportUsage bool
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a MockProvider with an optional script.
func NewMockProvider(replies ...MockReply) *MockProvider {
	return &MockProvider{script: replies}
}

// Enqueue appends replies to the script.
func (m *MockProvider) Enqueue(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) Name() string {
	return ProviderMock
}

func (m *MockProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	reply := m.next(req)
	if reply.Err != nil {
		return nil, reply.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{
		Content:   reply.Content,
		ToolCalls: reply.ToolCalls,
		Usage:     reply.Usage,
	}, nil
}

func (m *MockProvider) ChatStream(ctx context.Context, req Request, fn StreamCallback) (*Usage, error) {
	reply := m.next(req)
	if reply.Err != nil && len(reply.Chunks) == 0 {
		return nil, reply.Err
	}
	chunks := reply.Chunks
	if chunks == nil {
		chunks = splitIntoChunks(reply.Content, 10)
	}
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := fn(chunk); err != nil {
			return nil, err
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return reply.Usage, nil
}

// next records req and pops the next scripted reply, or builds an echo.
func (m *MockProvider) next(req Request) MockReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		return r
	}

	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUser = req.Messages[i].Content
			break
		}
	}
	content := fmt.Sprintf("[MOCK] Received: %s", lastUser)
	reply := MockReply{Content: content}
	if m.ReportUsage {
		var in int64
		for _, msg := range req.Messages {
			in += EstimateTokens(msg.Content)
		}
		in += EstimateTokens(req.System)
		reply.Usage = &Usage{InputTokens: in, OutputTokens: EstimateTokens(content)}
	}
	return reply
}

// splitIntoChunks splits s into pieces of at most size runes.
func splitIntoChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var chunks []string
	for len(runes) > size {
		chunks = append(chunks, string(runes[:size]))
		runes = runes[size:]
	}
	return append(chunks, string(runes))
}
