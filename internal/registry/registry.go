// Package registry owns the live agent sessions: it builds them from agent
// rows on first use, creates new agents, and bounds how many stay in memory.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/wire"
	"github.com/zulandar/signalbox/internal/workspace"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ErrAgentNotFound is returned when an agent id has no row.
var ErrAgentNotFound = errors.New("agent not found")

const defaultCapacity = 256

// Opts holds parameters for New.
type Opts struct {
	DB           *gorm.DB
	Models       *llm.Registry
	Ledger       agent.UsageRecorder
	Publisher    wire.Publisher
	Workspace    *workspace.Workspace // enables file-writing tools
	SpecDir      string
	DefaultModel string
	Capacity     int
	MemoryWindow int
	UsagePolicy  agent.UsagePolicy
	MaxToolSteps int
	Logger       *slog.Logger
}

// Registry caches at most Capacity sessions. Evicted sessions are stopped;
// their usage is already persisted and a later Get rebuilds them.
type Registry struct {
	db       *gorm.DB
	models   *llm.Registry
	opts     Opts
	pub      wire.Publisher
	log      *slog.Logger
	sessions *lru.Cache[string, *agent.Session]
	group    singleflight.Group
}

// New creates a Registry.
func New(opts Opts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("registry: db is required")
	}
	if opts.Models == nil {
		return nil, fmt.Errorf("registry: model registry is required")
	}
	if !opts.Models.Supported(opts.DefaultModel) {
		return nil, fmt.Errorf("registry: default model %q: %w", opts.DefaultModel, llm.ErrUnsupportedModel)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.Publisher == nil {
		opts.Publisher = wire.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		db:     opts.DB,
		models: opts.Models,
		opts:   opts,
		pub:    opts.Publisher,
		log:    opts.Logger,
	}
	cache, err := lru.NewWithEvict(opts.Capacity, func(id string, s *agent.Session) {
		r.log.Debug("session evicted", "agent", id)
		s.Stop()
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.sessions = cache
	return r, nil
}

// Get returns the live session for id, building it from its row on first
// use. Concurrent first lookups share one build.
func (r *Registry) Get(ctx context.Context, id string) (*agent.Session, error) {
	if s, ok := r.sessions.Get(id); ok {
		return s, nil
	}
	v, err, _ := r.group.Do("get:"+id, func() (any, error) {
		if s, ok := r.sessions.Get(id); ok {
			return s, nil
		}
		row, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		return r.build(row)
	})
	if err != nil {
		return nil, err
	}
	return v.(*agent.Session), nil
}

// Spawn creates a new agent of role in the project and returns its session.
// An empty model selects the default. A failure to persist the row is
// reported as an ERROR event; the session is still returned.
func (r *Registry) Spawn(ctx context.Context, projectID uint, role agent.Role, model string) (*agent.Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("registry: spawn %q: %w", role, agent.ErrUnknownRole)
	}
	if model == "" {
		model = r.opts.DefaultModel
	}
	if !r.models.Supported(model) {
		return nil, fmt.Errorf("registry: spawn %s: model %q: %w", role, model, llm.ErrUnsupportedModel)
	}

	first, last := agent.RandomName()
	row := models.Agent{
		ID:        fmt.Sprintf("%s|%s", role, uuid.NewString()[:8]),
		ProjectID: projectID,
		AgentType: string(role),
		Model:     model,
		FirstName: first,
		LastName:  last,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Error("failed to initialize agent", "agent", row.ID, "error", err)
		r.pub.Publish(wire.Event{Source: row.ID, Type: wire.Error, Content: fmt.Sprintf("Failed to initialize agent: %v", err)})
	} else {
		r.pub.Publish(wire.Event{Source: row.ID, Type: wire.Info, Content: fmt.Sprintf("Agent initialized with name: %s %s", first, last)})
	}
	return r.build(row)
}

// Singleton returns the project's agent of role, creating it on first use.
// Concurrent callers for the same project and role share one agent row.
func (r *Registry) Singleton(ctx context.Context, projectID uint, role agent.Role) (*agent.Session, error) {
	key := fmt.Sprintf("singleton:%d:%s", projectID, role)
	v, err, _ := r.group.Do(key, func() (any, error) {
		var row models.Agent
		err := r.db.WithContext(ctx).
			Where("project_id = ? AND agent_type = ?", projectID, string(role)).
			Order("created_at, id").
			First(&row).Error
		switch {
		case err == nil:
			return r.Get(ctx, row.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return r.Spawn(ctx, projectID, role, "")
		default:
			return nil, fmt.Errorf("registry: singleton %s: %w", role, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(*agent.Session), nil
}

// UpdateModel changes an agent's model. A live session is updated through
// the session so its in-memory model follows the row; otherwise only the row
// changes.
func (r *Registry) UpdateModel(ctx context.Context, id, model string) error {
	if !r.models.Supported(model) {
		return fmt.Errorf("registry: update model %q: %w", model, llm.ErrUnsupportedModel)
	}
	if s, ok := r.sessions.Peek(id); ok {
		return s.UpdateModel(ctx, model)
	}
	return r.SaveModel(ctx, id, model)
}

// SaveModel persists model on the agent row.
func (r *Registry) SaveModel(ctx context.Context, id, model string) error {
	result := r.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", id).Update("model", model)
	if result.Error != nil {
		return fmt.Errorf("registry: save model for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the value is unchanged.
		if _, err := r.load(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close stops every live session.
func (r *Registry) Close() {
	r.sessions.Purge()
}

func (r *Registry) load(ctx context.Context, id string) (models.Agent, error) {
	var row models.Agent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return row, fmt.Errorf("registry: agent %s: %w", id, ErrAgentNotFound)
		}
		return row, fmt.Errorf("registry: agent %s: %w", id, err)
	}
	return row, nil
}

func (r *Registry) build(row models.Agent) (*agent.Session, error) {
	role, err := agent.ParseRole(row.AgentType)
	if err != nil {
		return nil, fmt.Errorf("registry: agent %s: %w", row.ID, err)
	}
	model := row.Model
	if !r.models.Supported(model) {
		r.log.Warn("agent has unsupported model, using default", "agent", row.ID, "model", model, "default", r.opts.DefaultModel)
		model = r.opts.DefaultModel
	}
	s, err := agent.New(agent.Opts{
		ID:           row.ID,
		Role:         role,
		Model:        model,
		Models:       r.models,
		Ledger:       r.opts.Ledger,
		Store:        r,
		Publisher:    r.pub,
		Tools:        agent.ToolsFor(role, r.opts.Workspace, r.opts.SpecDir),
		MemoryWindow: r.opts.MemoryWindow,
		UsagePolicy:  r.opts.UsagePolicy,
		MaxToolSteps: r.opts.MaxToolSteps,
		Logger:       r.log,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.sessions.Add(row.ID, s)
	return s, nil
}

var _ agent.ModelStore = (*Registry)(nil)
