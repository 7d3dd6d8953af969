// Package ledger accumulates per-agent token usage and cost in the agents
// table and aggregates it per project.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/wire"
	"gorm.io/gorm"
)

// ErrNegativeDelta is reported when a usage delta would decrement a counter.
var ErrNegativeDelta = errors.New("negative usage delta")

// Delta is the usage of one completed invocation.
type Delta struct {
	Cost         float64
	InputTokens  int64
	OutputTokens int64
}

func (d Delta) validate() error {
	if d.Cost < 0 || d.InputTokens < 0 || d.OutputTokens < 0 {
		return ErrNegativeDelta
	}
	return nil
}

// Metrics mirrors recorded usage as Prometheus counters.
type Metrics struct {
	cost     *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	failures prometheus.Counter
}

// NewMetrics creates the ledger counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "usage_cost_total",
			Help:      "Accumulated LLM cost recorded by the ledger.",
		}, []string{"model"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "usage_tokens_total",
			Help:      "Accumulated LLM tokens recorded by the ledger.",
		}, []string{"model", "direction"}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "ledger_failures_total",
			Help:      "Usage records that could not be persisted.",
		}),
	}
}

// Opts holds parameters for New.
type Opts struct {
	DB        *gorm.DB
	Publisher wire.Publisher // receives ERROR events for failed records
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Ledger records usage deltas against agent rows.
type Ledger struct {
	db      *gorm.DB
	pub     wire.Publisher
	metrics *Metrics
	log     *slog.Logger
}

// New creates a Ledger.
func New(opts Opts) (*Ledger, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ledger: db is required")
	}
	l := &Ledger{db: opts.DB, pub: opts.Publisher, metrics: opts.Metrics, log: opts.Logger}
	if l.pub == nil {
		l.pub = wire.Discard
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	return l, nil
}

// Record adds d to the agent's counters in a single UPDATE. Failures are
// logged and published as an ERROR event, never returned.
func (l *Ledger) Record(ctx context.Context, agentID, model string, d Delta) {
	if err := l.record(ctx, agentID, d); err != nil {
		l.metrics.failures.Inc()
		l.log.Error("failed to record usage", "agent", agentID, "error", err)
		l.pub.Publish(wire.Event{
			Source:  wire.SourceLedger,
			Type:    wire.Error,
			Content: fmt.Sprintf("Failed to record usage for %s: %v", agentID, err),
		})
		return
	}
	l.metrics.cost.WithLabelValues(model).Add(d.Cost)
	l.metrics.tokens.WithLabelValues(model, "input").Add(float64(d.InputTokens))
	l.metrics.tokens.WithLabelValues(model, "output").Add(float64(d.OutputTokens))
}

func (l *Ledger) record(ctx context.Context, agentID string, d Delta) error {
	if err := d.validate(); err != nil {
		return fmt.Errorf("ledger: record %s: %w", agentID, err)
	}
	if d == (Delta{}) {
		return nil
	}
	result := l.db.WithContext(ctx).Model(&models.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]any{
			"cost":          gorm.Expr("cost + ?", d.Cost),
			"input_tokens":  gorm.Expr("input_tokens + ?", d.InputTokens),
			"output_tokens": gorm.Expr("output_tokens + ?", d.OutputTokens),
		})
	if result.Error != nil {
		return fmt.Errorf("ledger: record %s: %w", agentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger: record %s: %w", agentID, gorm.ErrRecordNotFound)
	}
	return nil
}

// AgentUsage is one agent's accumulated usage.
type AgentUsage struct {
	ID           string  `json:"id"`
	AgentType    string  `json:"agentType"`
	Model        string  `json:"model"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	Cost         float64 `json:"cost"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
}

// Totals is a project's usage summed across its agents.
type Totals struct {
	ProjectID         uint         `json:"projectId"`
	TotalCost         float64      `json:"totalCost"`
	TotalInputTokens  int64        `json:"totalInputTokens"`
	TotalOutputTokens int64        `json:"totalOutputTokens"`
	TotalTokens       int64        `json:"totalTokens"`
	Agents            []AgentUsage `json:"agents"`
}

// ProjectTotals sums usage over the project's agent rows at read time.
func (l *Ledger) ProjectTotals(ctx context.Context, projectID uint) (Totals, error) {
	totals := Totals{ProjectID: projectID, Agents: []AgentUsage{}}

	var sums struct {
		Cost         float64
		InputTokens  int64
		OutputTokens int64
	}
	err := l.db.WithContext(ctx).Model(&models.Agent{}).
		Select("COALESCE(SUM(cost),0) as cost, COALESCE(SUM(input_tokens),0) as input_tokens, COALESCE(SUM(output_tokens),0) as output_tokens").
		Where("project_id = ?", projectID).
		Scan(&sums).Error
	if err != nil {
		return totals, fmt.Errorf("ledger: project totals for %d: %w", projectID, err)
	}
	totals.TotalCost = sums.Cost
	totals.TotalInputTokens = sums.InputTokens
	totals.TotalOutputTokens = sums.OutputTokens
	totals.TotalTokens = sums.InputTokens + sums.OutputTokens

	var agents []models.Agent
	if err := l.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at, id").
		Find(&agents).Error; err != nil {
		return totals, fmt.Errorf("ledger: project agents for %d: %w", projectID, err)
	}
	for _, a := range agents {
		totals.Agents = append(totals.Agents, AgentUsage{
			ID:           a.ID,
			AgentType:    a.AgentType,
			Model:        a.Model,
			FirstName:    a.FirstName,
			LastName:     a.LastName,
			Cost:         a.Cost,
			InputTokens:  a.InputTokens,
			OutputTokens: a.OutputTokens,
		})
	}
	return totals, nil
}
