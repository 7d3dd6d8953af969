// Package agent implements LLM-backed agent sessions: bounded conversational
// memory, blocking and streaming invocations, tool calls and per-call usage
// accounting.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/wire"
)

var (
	// ErrStopped is returned for invocations submitted after Stop.
	ErrStopped = errors.New("session stopped")
	// ErrStreamReused is yielded when a Stream sequence is ranged over twice.
	ErrStreamReused = errors.New("stream already consumed")

	errStreamStopped = errors.New("stream stopped by consumer")
)

// UsagePolicy decides what is recorded when a stream consumer stops early.
type UsagePolicy string

const (
	// UsageForfeit records nothing for abandoned streams.
	UsageForfeit UsagePolicy = "forfeit"
	// UsagePartial records estimated usage for the chunks produced.
	UsagePartial UsagePolicy = "partial"
)

const (
	defaultMemoryWindow = 10
	defaultMaxToolSteps = 3
)

// UsageRecorder persists per-invocation usage.
type UsageRecorder interface {
	Record(ctx context.Context, agentID, model string, d ledger.Delta)
}

// ModelStore persists an agent's model.
type ModelStore interface {
	SaveModel(ctx context.Context, agentID, model string) error
}

// Opts holds parameters for New.
type Opts struct {
	ID     string
	Role   Role
	Model  string
	Models *llm.Registry
	Ledger UsageRecorder
	Store  ModelStore
	// Publisher receives every event the session produces.
	Publisher    wire.Publisher
	Tools        []Tool
	MemoryWindow int
	UsagePolicy  UsagePolicy
	MaxToolSteps int
	Logger       *slog.Logger
}

// Session is one live agent. Invocations are executed one at a time by the
// session's own goroutine, which is the only writer of its memory.
type Session struct {
	id      string
	role    Role
	profile Profile

	models *llm.Registry
	ledger UsageRecorder
	store  ModelStore
	pub    wire.Publisher
	log    *slog.Logger

	tools    map[string]Tool
	toolSpec []llm.ToolSpec

	window   int
	policy   UsagePolicy
	maxSteps int

	modelMu sync.RWMutex
	model   string

	memory []llm.Message

	jobs     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a session and starts its worker goroutine.
func New(opts Opts) (*Session, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("agent: id is required")
	}
	if !opts.Role.Valid() {
		return nil, fmt.Errorf("agent: %s: %q: %w", opts.ID, opts.Role, ErrUnknownRole)
	}
	if opts.Models == nil {
		return nil, fmt.Errorf("agent: %s: model registry is required", opts.ID)
	}
	if !opts.Models.Supported(opts.Model) {
		return nil, fmt.Errorf("agent: %s: model %q: %w", opts.ID, opts.Model, llm.ErrUnsupportedModel)
	}
	if opts.MemoryWindow <= 0 {
		opts.MemoryWindow = defaultMemoryWindow
	}
	if opts.MaxToolSteps <= 0 {
		opts.MaxToolSteps = defaultMaxToolSteps
	}
	if opts.UsagePolicy == "" {
		opts.UsagePolicy = UsageForfeit
	}
	if opts.Publisher == nil {
		opts.Publisher = wire.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		id:       opts.ID,
		role:     opts.Role,
		profile:  opts.Role.Profile(),
		models:   opts.Models,
		ledger:   opts.Ledger,
		store:    opts.Store,
		pub:      opts.Publisher,
		log:      opts.Logger.With("agent", opts.ID),
		tools:    make(map[string]Tool),
		window:   opts.MemoryWindow,
		policy:   opts.UsagePolicy,
		maxSteps: opts.MaxToolSteps,
		model:    opts.Model,
		jobs:     make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, t := range opts.Tools {
		spec := t.Spec()
		s.tools[spec.Name] = t
		s.toolSpec = append(s.toolSpec, spec)
	}
	go s.loop()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Role() Role { return s.role }

func (s *Session) Description() string { return s.profile.Description }

// Model returns the session's current model.
func (s *Session) Model() string {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	return s.model
}

// Stop asks the worker to exit after the invocation in progress, if any.
// It does not wait; use Done for that.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Done is closed when the worker goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.quit:
			return
		}
	}
}

// submit hands job to the worker. Once it returns nil the job will run.
func (s *Session) submit(ctx context.Context, job func()) error {
	select {
	case s.jobs <- job:
		return nil
	case <-s.quit:
		return fmt.Errorf("agent: %s: %w", s.id, ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Memory returns a copy of the session's conversational memory.
func (s *Session) Memory(ctx context.Context) ([]llm.Message, error) {
	out := make(chan []llm.Message, 1)
	if err := s.submit(ctx, func() { out <- slices.Clone(s.memory) }); err != nil {
		return nil, err
	}
	return <-out, nil
}

// UpdateModel switches the session to model. The change is persisted first;
// if that fails the session keeps its current model.
func (s *Session) UpdateModel(ctx context.Context, model string) error {
	if !s.models.Supported(model) {
		err := fmt.Errorf("agent: %s: update model %q: %w", s.id, model, llm.ErrUnsupportedModel)
		s.publish(wire.Error, fmt.Sprintf("Failed to update model: Model %s not supported", model))
		return err
	}
	if s.store != nil {
		if err := s.store.SaveModel(ctx, s.id, model); err != nil {
			s.publish(wire.Error, fmt.Sprintf("Failed to update model: %v", err))
			return fmt.Errorf("agent: %s: update model: %w", s.id, err)
		}
	}
	s.modelMu.Lock()
	s.model = model
	s.modelMu.Unlock()
	s.publish(wire.Info, fmt.Sprintf("Model updated to %s", model))
	return nil
}

// Call sends prompt and returns the model's final text. Tool calls requested
// by the model are executed, up to the session's step limit.
func (s *Session) Call(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	out := make(chan result, 1)
	err := s.submit(ctx, func() {
		text, err := s.call(ctx, prompt)
		out <- result{text, err}
	})
	if err != nil {
		return "", err
	}
	r := <-out
	return r.text, r.err
}

// Stream sends prompt and yields the response chunks in order. A non-nil
// error is yielded at most once, as the final element. Stopping the range
// early abandons the invocation; what is recorded then depends on the usage
// policy. The sequence can be ranged over only once.
func (s *Session) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", fmt.Errorf("agent: %s: %w", s.id, ErrStreamReused))
			return
		}
		chunks := make(chan string)
		stopped := make(chan struct{})
		result := make(chan error, 1)
		err := s.submit(ctx, func() {
			defer close(chunks)
			result <- s.stream(ctx, prompt, chunks, stopped)
		})
		if err != nil {
			yield("", err)
			return
		}
		for chunk := range chunks {
			if !yield(chunk, nil) {
				close(stopped)
				return
			}
		}
		if err := <-result; err != nil {
			yield("", err)
		}
	}
}

func (s *Session) call(ctx context.Context, prompt string) (string, error) {
	model := s.Model()
	s.remember(llm.Message{Role: llm.RoleUser, Content: prompt})

	provider, err := s.models.Client(model)
	if err != nil {
		return "", s.fail("Error calling LLM", err)
	}

	req := s.request(model)
	var total llm.Usage
	var text string
	for step := 1; ; step++ {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			return "", s.fail("Error calling LLM", err)
		}
		total = addUsage(total, resp.Usage, req, responseText(resp))
		if len(resp.ToolCalls) == 0 || step >= s.maxSteps {
			text = resp.Content
			break
		}
		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Content:    s.runTool(ctx, tc),
			})
		}
	}

	s.remember(llm.Message{Role: llm.RoleAssistant, Content: text})
	if text != "" {
		s.publish(wire.Message, text)
	}
	s.complete(ctx, model, total)
	return text, nil
}

func (s *Session) stream(ctx context.Context, prompt string, out chan<- string, stopped <-chan struct{}) error {
	s.publish(wire.Message, prompt)
	model := s.Model()
	s.remember(llm.Message{Role: llm.RoleUser, Content: prompt})

	provider, err := s.models.Client(model)
	if err != nil {
		return s.fail("Error streaming from LLM", err)
	}

	req := s.request(model)
	var buf strings.Builder
	var completion int64
	usage, err := provider.ChatStream(ctx, req, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		buf.WriteString(chunk)
		completion += llm.EstimateTokens(chunk)
		s.publish(wire.MessageStream, chunk)
		select {
		case out <- chunk:
			return nil
		case <-stopped:
			return errStreamStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if errors.Is(err, errStreamStopped) {
		s.log.Debug("stream abandoned by consumer", "policy", string(s.policy))
		if s.policy == UsagePartial {
			s.complete(ctx, model, llm.Usage{
				InputTokens:  promptTokens(req),
				OutputTokens: completion,
				Estimated:    true,
			})
		}
		return nil
	}
	if err != nil {
		return s.fail("Error streaming from LLM", err)
	}

	s.remember(llm.Message{Role: llm.RoleAssistant, Content: buf.String()})
	if usage == nil {
		usage = &llm.Usage{InputTokens: promptTokens(req), OutputTokens: completion, Estimated: true}
	}
	s.complete(ctx, model, *usage)
	return nil
}

// remember appends m and keeps exactly the most recent window messages.
func (s *Session) remember(m llm.Message) {
	s.memory = append(s.memory, m)
	if n := len(s.memory); n > s.window {
		s.memory = slices.Clone(s.memory[n-s.window:])
	}
}

// request builds the prompt: the system message plus the memory window.
func (s *Session) request(model string) llm.Request {
	return llm.Request{
		Model:    model,
		System:   s.profile.SystemMessage,
		Messages: slices.Clone(s.memory),
		Tools:    s.toolSpec,
	}
}

func (s *Session) runTool(ctx context.Context, tc llm.ToolCall) string {
	tool, ok := s.tools[tc.Name]
	if !ok {
		s.publish(wire.Error, fmt.Sprintf("Unknown tool: %s", tc.Name))
		return fmt.Sprintf("Error: unknown tool %s", tc.Name)
	}
	result, err := tool.Run(ctx, tc.Arguments)
	if err != nil {
		s.publish(wire.Error, fmt.Sprintf("Tool %s failed: %v", tc.Name, err))
		return fmt.Sprintf("Error: %v", err)
	}
	s.publish(wire.Message, result)
	return result
}

// complete records usage once and announces it.
func (s *Session) complete(ctx context.Context, model string, u llm.Usage) {
	cost := s.models.Cost(u.InputTokens, u.OutputTokens, model)
	if s.ledger != nil {
		s.ledger.Record(context.WithoutCancel(ctx), s.id, model, ledger.Delta{
			Cost:         cost,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
		})
	}
	s.pub.Publish(wire.InfoEvent(s.id, wire.UsageInfo{
		Cost:         cost,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}))
}

func (s *Session) fail(prefix string, err error) error {
	s.log.Warn(prefix, "error", err)
	s.publish(wire.Error, fmt.Sprintf("%s: %v", prefix, err))
	return fmt.Errorf("agent: %s: %w", s.id, err)
}

func (s *Session) publish(t wire.ContentType, content string) {
	s.pub.Publish(wire.Event{Source: s.id, Type: t, Content: content})
}

// addUsage adds one provider step to total, estimating the step when the
// provider reported nothing.
func addUsage(total llm.Usage, reported *llm.Usage, req llm.Request, completion string) llm.Usage {
	if reported != nil {
		total.InputTokens += reported.InputTokens
		total.OutputTokens += reported.OutputTokens
		total.Estimated = total.Estimated || reported.Estimated
		return total
	}
	total.InputTokens += promptTokens(req)
	total.OutputTokens += llm.EstimateTokens(completion)
	total.Estimated = true
	return total
}

// promptTokens estimates the prompt size of req.
func promptTokens(req llm.Request) int64 {
	n := llm.EstimateTokens(req.System)
	for _, m := range req.Messages {
		n += llm.EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			n += llm.EstimateTokens(tc.Arguments)
		}
	}
	return n
}

// responseText is the generated text of resp, including tool arguments.
func responseText(resp *llm.Response) string {
	if len(resp.ToolCalls) == 0 {
		return resp.Content
	}
	var b strings.Builder
	b.WriteString(resp.Content)
	for _, tc := range resp.ToolCalls {
		b.WriteString(tc.Name)
		b.WriteString(tc.Arguments)
	}
	return b.String()
}
