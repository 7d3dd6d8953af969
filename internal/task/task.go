// Package task runs the delegator/builder pipeline: a delegator breaks a
// request into tasks, and a fresh builder carries out each one against the
// workspace.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/project"
	"github.com/zulandar/signalbox/internal/wire"
	"github.com/zulandar/signalbox/internal/workspace"
)

// ErrNoProject is returned when the context carries no project id.
var ErrNoProject = errors.New("no active project")

// ErrInvalidPlan is returned when the delegator's plan fails ValidatePlan.
var ErrInvalidPlan = errors.New("invalid plan")

const defaultMaxContextFiles = 20

// Agents is the subset of the agent registry the pipeline needs.
type Agents interface {
	Singleton(ctx context.Context, projectID uint, role agent.Role) (*agent.Session, error)
	Spawn(ctx context.Context, projectID uint, role agent.Role, model string) (*agent.Session, error)
}

// Opts holds parameters for New.
type Opts struct {
	Agents          Agents
	Workspace       *workspace.Workspace
	Publisher       wire.Publisher
	MaxContextFiles int
	Logger          *slog.Logger
}

// Pipeline turns a user request into written files.
type Pipeline struct {
	agents   Agents
	ws       *workspace.Workspace
	pub      wire.Publisher
	maxFiles int
	log      *slog.Logger
}

// Summary reports what a Run did.
type Summary struct {
	Tasks        int
	Failed       int
	FilesWritten []string
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("task: agents are required")
	}
	if opts.Workspace == nil {
		return nil, fmt.Errorf("task: workspace is required")
	}
	if opts.MaxContextFiles <= 0 {
		opts.MaxContextFiles = defaultMaxContextFiles
	}
	if opts.Publisher == nil {
		opts.Publisher = wire.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		agents:   opts.Agents,
		ws:       opts.Workspace,
		pub:      opts.Publisher,
		maxFiles: opts.MaxContextFiles,
		log:      opts.Logger,
	}, nil
}

// Run plans request with the project's delegator and hands each task to a
// new builder. A failed task is reported as an ERROR event and the remaining
// tasks still run; files already written are kept.
func (p *Pipeline) Run(ctx context.Context, request string) (Summary, error) {
	var sum Summary
	projectID, ok := project.FromContext(ctx)
	if !ok {
		return sum, fmt.Errorf("task: %w", ErrNoProject)
	}

	delegator, err := p.agents.Singleton(ctx, projectID, agent.Delegator)
	if err != nil {
		return sum, fmt.Errorf("task: delegator: %w", err)
	}

	plan, err := p.plan(ctx, delegator, request)
	if err != nil {
		p.pub.Publish(wire.Event{Source: delegator.ID(), Type: wire.Error, Content: fmt.Sprintf("Error handling delegator task: %v", err)})
		return sum, fmt.Errorf("task: %w", err)
	}

	sum.Tasks = len(plan.Tasks)
	for f, owners := range FileOwners(plan) {
		if len(owners) > 1 {
			p.log.Debug("file planned by several tasks", "file", f, "tasks", owners)
		}
	}
	for i, a := range plan.Tasks {
		written, err := p.build(ctx, projectID, plan.Context, a)
		sum.FilesWritten = append(sum.FilesWritten, written...)
		if err != nil {
			sum.Failed++
			p.log.Warn("task failed", "project", projectID, "index", i, "task", a.Task, "error", err)
		}
	}
	p.log.Info("task pipeline finished", "project", projectID, "tasks", sum.Tasks, "failed", sum.Failed, "files", len(sum.FilesWritten))
	return sum, nil
}

func (p *Pipeline) plan(ctx context.Context, delegator *agent.Session, request string) (*Plan, error) {
	codebase, err := p.ws.Context(p.maxFiles)
	if err != nil {
		p.pub.Publish(wire.Event{Source: delegator.ID(), Type: wire.Error, Content: fmt.Sprintf("Error gathering codebase context: %v", err)})
		codebase = ""
	}

	prompt := fmt.Sprintf("\nUser Request: %s\n\nCodebase Context:\n%s\n\nBreak down this task into smaller, more manageable tasks. For each task, specify which files should be created or modified.", request, codebase)
	var plan Plan
	if err := agent.CallInto(ctx, delegator, prompt, &plan); err != nil {
		return nil, err
	}
	if errs := ValidatePlan(&plan); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(errs, "; "))
	}
	return &plan, nil
}

// build runs one assignment on a fresh builder and returns the files it
// wrote before any failure.
func (p *Pipeline) build(ctx context.Context, projectID uint, teamTask string, a Assignment) ([]string, error) {
	builder, err := p.agents.Spawn(ctx, projectID, agent.Builder, "")
	if err != nil {
		p.pub.Publish(wire.Event{Source: wire.SourceAgentManager, Type: wire.Error, Content: fmt.Sprintf("Error creating builder: %v", err)})
		return nil, err
	}

	fail := func(err error) error {
		p.pub.Publish(wire.Event{Source: builder.ID(), Type: wire.Error, Content: fmt.Sprintf("Error handling task: %v", err)})
		return err
	}

	files, err := p.ws.RenderFiles("", a.Files)
	if err != nil {
		return nil, fail(err)
	}

	prompt := fmt.Sprintf("Team task: %s; Your Task: %s\nFiles: %s", teamTask, a.Task, files)
	var work Work
	if err := agent.CallInto(ctx, builder, prompt, &work); err != nil {
		return nil, fail(err)
	}

	var written []string
	for _, f := range work.Files {
		p.pub.Publish(wire.Event{Source: builder.ID(), Type: wire.Message, Content: f.Content})
		if err := p.ws.WriteFile(f.File, f.Content); err != nil {
			return written, fail(err)
		}
		written = append(written, f.File)
	}
	return written, nil
}
