package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/project"
	"github.com/zulandar/signalbox/internal/registry"
	"github.com/zulandar/signalbox/internal/task"
	"github.com/zulandar/signalbox/internal/wire"
)

type eventLog struct {
	mu     sync.Mutex
	events []wire.Event
}

func (l *eventLog) Publish(ev wire.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []wire.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wire.Event(nil), l.events...)
}

type fakeTasks struct {
	mu        sync.Mutex
	requests  []string
	projectID uint
	err       error
}

func (f *fakeTasks) Run(ctx context.Context, request string) (task.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	f.projectID, _ = project.FromContext(ctx)
	return task.Summary{}, f.err
}

type fixture struct {
	router  *Router
	events  *eventLog
	tasks   *fakeTasks
	mock    *llm.MockProvider
	metrics *Metrics
}

func newFixture(t *testing.T, replies ...llm.MockReply) *fixture {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	_, err = db.EnsureProject(gdb, 1, "")
	require.NoError(t, err)
	require.NoError(t, gdb.Create(&models.Agent{ID: "product_manager|pm", ProjectID: 1, AgentType: "product_manager", Model: "mock-echo"}).Error)

	events := &eventLog{}
	mock := llm.NewMockProvider(replies...)
	reg, err := registry.New(registry.Opts{
		DB:           gdb,
		Models:       llm.NewRegistry(llm.RegistryOpts{Providers: []llm.Provider{mock}}),
		Publisher:    events,
		DefaultModel: "mock-echo",
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	sel, err := project.NewSelector(gdb, 1)
	require.NoError(t, err)

	tasks := &fakeTasks{}
	metrics := NewMetrics(prometheus.NewRegistry())
	r, err := New(Opts{Agents: reg, Tasks: tasks, Projects: sel, Publisher: events, Metrics: metrics})
	require.NoError(t, err)
	return &fixture{router: r, events: events, tasks: tasks, mock: mock, metrics: metrics}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	assert.ErrorContains(t, err, "agents are required")
}

func TestHandleMessage_Malformed(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), "conversation[$]only-two")

	evs := f.events.all()
	require.Len(t, evs, 2)
	assert.Equal(t, wire.Event{Source: wire.SourceRuntime, Type: wire.System, Content: "start"}, evs[0])
	assert.Equal(t, wire.SourceRuntime, evs[1].Source)
	assert.Equal(t, wire.Error, evs[1].Type)
	assert.True(t, strings.HasPrefix(evs[1].Content, "Error processing message: "))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("invalid", "error")))
}

func TestHandleMessage_UnknownTopic(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), "weather[$]x[$]sunny?")

	evs := f.events.all()
	require.Len(t, evs, 3)
	assert.Equal(t, wire.Event{Source: wire.SourceRuntime, Type: wire.Error, Content: "Unknown topic: weather"}, evs[1])
	assert.Equal(t, "end", evs[2].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("other", "unknown")))
}

func TestHandleMessage_ConversationStreamsInOrder(t *testing.T) {
	f := newFixture(t, llm.MockReply{Chunks: []string{"Hel", "lo ", "there"}, Usage: &llm.Usage{InputTokens: 5, OutputTokens: 3}})
	f.router.HandleMessage(context.Background(), "conversation[$]product_manager|pm[$]hello")

	evs := f.events.all()
	require.Len(t, evs, 7)
	assert.Equal(t, "start", evs[0].Content)
	assert.Equal(t, wire.Event{Source: "product_manager|pm", Type: wire.Message, Content: "hello"}, evs[1])
	for i, chunk := range []string{"Hel", "lo ", "there"} {
		assert.Equal(t, wire.Event{Source: "product_manager|pm", Type: wire.MessageStream, Content: chunk}, evs[2+i])
	}
	assert.Equal(t, wire.Info, evs[5].Type)
	assert.Contains(t, evs[5].Content, `"inputTokens":5`)
	assert.Equal(t, wire.Event{Source: wire.SourceRuntime, Type: wire.System, Content: "end"}, evs[6])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("conversation", "ok")))
}

func TestHandleMessage_ConversationUnknownAgent(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), "conversation[$]builder|ghost[$]hi")

	evs := f.events.all()
	require.Len(t, evs, 3)
	assert.Equal(t, wire.SourceAgentManager, evs[1].Source)
	assert.True(t, strings.HasPrefix(evs[1].Content, "Error handling conversation: "))
	assert.Contains(t, evs[1].Content, registry.ErrAgentNotFound.Error())
	assert.Equal(t, "end", evs[2].Content)
	assert.Empty(t, f.mock.Requests())
}

func TestHandleMessage_ConversationProviderError(t *testing.T) {
	f := newFixture(t, llm.MockReply{Err: errors.New("rate limited")})
	f.router.HandleMessage(context.Background(), "conversation[$]product_manager|pm[$]hi")

	var sources []string
	for _, ev := range f.events.all() {
		if ev.Type == wire.Error {
			sources = append(sources, ev.Source)
			assert.Contains(t, ev.Content, "rate limited")
		}
	}
	assert.Equal(t, []string{"product_manager|pm", wire.SourceAgentManager}, sources)
}

func TestHandleMessage_TaskCarriesActiveProject(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), "task[$][$]build a todo app")

	assert.Equal(t, []string{"build a todo app"}, f.tasks.requests)
	assert.Equal(t, uint(1), f.tasks.projectID)
	evs := f.events.all()
	require.Len(t, evs, 2)
	assert.Equal(t, "end", evs[1].Content)
}

func TestHandleMessage_TaskError(t *testing.T) {
	f := newFixture(t)
	f.tasks.err = errors.New("no delegator")
	f.router.HandleMessage(context.Background(), "task[$]x[$]do it")

	evs := f.events.all()
	require.Len(t, evs, 3)
	assert.Equal(t, wire.Event{Source: wire.SourceAgentManager, Type: wire.Error, Content: "Error handling delegator task: no delegator"}, evs[1])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("task", "error")))
}

func TestMetricTopic(t *testing.T) {
	assert.Equal(t, "task", metricTopic(wire.TopicTask))
	assert.Equal(t, "conversation", metricTopic(wire.TopicConversation))
	assert.Equal(t, "other", metricTopic("anything"))
}
