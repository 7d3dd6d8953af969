package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens is used when a request sets no limit; the
// Messages API requires one.
const defaultAnthropicMaxTokens = 4096

type anthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a Provider backed by the Anthropic Messages API.
// baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL string) Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) Name() string {
	return ProviderAnthropic
}

func (p *anthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	message, err := p.client.Messages.New(ctx, anthropicParams(req))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, Err: err}
	}

	resp := &Response{}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	if u := message.Usage; u.InputTokens > 0 || u.OutputTokens > 0 {
		resp.Usage = &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
	}
	return resp, nil
}

func (p *anthropicProvider) ChatStream(ctx context.Context, req Request, fn StreamCallback) (*Usage, error) {
	stream := p.client.Messages.NewStreaming(ctx, anthropicParams(req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, &ProviderError{Provider: ProviderAnthropic, Err: err}
		}
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
			if err := fn(text.Text); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, Err: err}
	}
	if u := message.Usage; u.InputTokens > 0 || u.OutputTokens > 0 {
		return &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}, nil
	}
	return nil, nil
}

// anthropicParams converts a Request to Messages API parameters. System
// turns inside Messages are folded into the system prompt. The Messages API
// requires the first turn to be a user turn.
func anthropicParams(req Request) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range fromFirst(req.Messages, RoleUser) {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	}
	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		if required, ok := t.Parameters["required"].([]string); ok {
			schema.Required = required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return params
}
