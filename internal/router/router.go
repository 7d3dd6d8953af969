// Package router dispatches inbound wire messages to agent conversations and
// the task pipeline.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/broadcast"
	"github.com/zulandar/signalbox/internal/task"
	"github.com/zulandar/signalbox/internal/wire"
)

// Agents resolves conversation targets.
type Agents interface {
	Get(ctx context.Context, id string) (*agent.Session, error)
}

// Tasks runs task requests.
type Tasks interface {
	Run(ctx context.Context, request string) (task.Summary, error)
}

// Projects attaches the active project to a request context.
type Projects interface {
	Context(ctx context.Context) context.Context
}

// Metrics counts inbound messages.
type Metrics struct {
	messages *prometheus.CounterVec
}

// NewMetrics creates the router counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		messages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "inbound_messages_total",
			Help:      "Inbound wire messages by topic and outcome.",
		}, []string{"topic", "outcome"}),
	}
}

// Opts holds parameters for New.
type Opts struct {
	Agents    Agents
	Tasks     Tasks
	Projects  Projects
	Publisher wire.Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Router handles one inbound message at a time per caller. It never returns
// errors: failures become ERROR events so the connection stays open.
type Router struct {
	agents   Agents
	tasks    Tasks
	projects Projects
	pub      wire.Publisher
	metrics  *Metrics
	log      *slog.Logger
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("router: agents are required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("router: tasks are required")
	}
	if opts.Projects == nil {
		return nil, fmt.Errorf("router: projects are required")
	}
	if opts.Publisher == nil {
		opts.Publisher = wire.Discard
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		agents:   opts.Agents,
		tasks:    opts.Tasks,
		projects: opts.Projects,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}, nil
}

var _ broadcast.MessageHandler = (*Router)(nil)

// HandleMessage processes raw to completion. Routing:
//  1. Malformed message → ERROR from RUNTIME, no end marker
//  2. conversation → stream the agent's reply
//  3. task → run the task pipeline
//  4. Anything else → ERROR "Unknown topic"
func (r *Router) HandleMessage(ctx context.Context, raw string) {
	r.system("start")

	msg, err := wire.ParseInbound(raw)
	if err != nil {
		r.log.Warn("router: bad inbound message", "error", err)
		r.metrics.messages.WithLabelValues("invalid", "error").Inc()
		r.pub.Publish(wire.Event{Source: wire.SourceRuntime, Type: wire.Error, Content: fmt.Sprintf("Error processing message: %v", err)})
		return
	}
	r.log.Debug("router: recv", "topic", msg.Topic, "id", msg.ID, "bytes", len(msg.Content))

	ctx = r.projects.Context(ctx)
	outcome := "ok"
	switch msg.Topic {
	case wire.TopicConversation:
		if err := r.converse(ctx, msg.ID, msg.Content); err != nil {
			outcome = "error"
			r.pub.Publish(wire.Event{Source: wire.SourceAgentManager, Type: wire.Error, Content: fmt.Sprintf("Error handling conversation: %v", err)})
		}
	case wire.TopicTask:
		if _, err := r.tasks.Run(ctx, msg.Content); err != nil {
			outcome = "error"
			r.pub.Publish(wire.Event{Source: wire.SourceAgentManager, Type: wire.Error, Content: fmt.Sprintf("Error handling delegator task: %v", err)})
		}
	default:
		outcome = "unknown"
		r.pub.Publish(wire.Event{Source: wire.SourceRuntime, Type: wire.Error, Content: fmt.Sprintf("Unknown topic: %s", msg.Topic)})
	}
	r.metrics.messages.WithLabelValues(metricTopic(msg.Topic), outcome).Inc()

	r.system("end")
}

// converse drains the agent's stream; chunks reach clients through the
// session's own MESSAGE_STREAM events.
func (r *Router) converse(ctx context.Context, id, content string) error {
	s, err := r.agents.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, err := range s.Stream(ctx, content) {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) system(content string) {
	r.pub.Publish(wire.Event{Source: wire.SourceRuntime, Type: wire.System, Content: content})
}

// metricTopic keeps label cardinality bounded.
func metricTopic(t wire.Topic) string {
	switch t {
	case wire.TopicConversation, wire.TopicTask:
		return string(t)
	}
	return "other"
}
