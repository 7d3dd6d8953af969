package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/agent"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/project"
	"github.com/zulandar/signalbox/internal/registry"
	"github.com/zulandar/signalbox/internal/wire"
	"github.com/zulandar/signalbox/internal/workspace"
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

func (l *eventLog) ofType(t wire.ContentType) []wire.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wire.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	pipeline *Pipeline
	mock     *llm.MockProvider
	events   *eventLog
	root     string
}

func newFixture(t *testing.T, replies ...llm.MockReply) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	ws, err := workspace.New(root)
	require.NoError(t, err)

	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	_, err = db.EnsureProject(gdb, 1, "")
	require.NoError(t, err)

	mock := llm.NewMockProvider(replies...)
	events := &eventLog{}
	reg, err := registry.New(registry.Opts{
		DB:           gdb,
		Models:       llm.NewRegistry(llm.RegistryOpts{Providers: []llm.Provider{mock}}),
		Publisher:    events,
		DefaultModel: "mock-echo",
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	p, err := New(Opts{Agents: reg, Workspace: ws, Publisher: events})
	require.NoError(t, err)
	return &fixture{pipeline: p, mock: mock, events: events, root: root}
}

func lastUser(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	assert.ErrorContains(t, err, "agents are required")
}

func TestRun_RequiresProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Run(context.Background(), "do it")
	assert.ErrorIs(t, err, ErrNoProject)
}

func TestRun_FailedTaskDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t,
		llm.MockReply{Content: `{"context":"team","tasks":[{"task":"write a","files":["a.go"]},{"task":"escape","files":["../x.go"]},{"task":"update main","files":["main.go"]}]}`},
		llm.MockReply{Content: "```json\n{\"files\":[{\"file\":\"pkg/a.go\",\"content\":\"package a\"}]}\n```"},
		llm.MockReply{Content: `{"files":[{"file":"main.go","content":"package main // v2"}]}`},
	)
	ctx := project.WithID(context.Background(), 1)

	sum, err := f.pipeline.Run(ctx, "add package a")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Tasks)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"pkg/a.go", "main.go"}, sum.FilesWritten)

	got, err := os.ReadFile(filepath.Join(f.root, "pkg", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package a", string(got))
	got, err = os.ReadFile(filepath.Join(f.root, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main // v2", string(got))

	requests := f.mock.Requests()
	require.Len(t, requests, 3)
	planPrompt := lastUser(requests[0])
	assert.Contains(t, planPrompt, "User Request: add package a")
	assert.Contains(t, planPrompt, "File: main.go\npackage main\n\n")
	assert.Contains(t, lastUser(requests[1]), "Team task: team; Your Task: write a\nFiles: a.go\n"+workspace.EmptyFile+"\n\n")
	assert.Contains(t, lastUser(requests[2]), "Team task: team; Your Task: update main\nFiles: main.go\npackage main\n\n")

	errs := f.events.ofType(wire.Error)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0].Source, string(agent.Builder)+"|"))
	assert.Contains(t, errs[0].Content, "Error handling task:")
	assert.Contains(t, errs[0].Content, workspace.ErrOutsideRoot.Error())

	var contents []string
	for _, ev := range f.events.ofType(wire.Message) {
		contents = append(contents, ev.Content)
	}
	assert.Contains(t, contents, "package a")
	assert.Contains(t, contents, "package main // v2")
}

func TestRun_BuilderSchemaViolation(t *testing.T) {
	f := newFixture(t,
		llm.MockReply{Content: `{"context":"team","tasks":[{"task":"one","files":[]},{"task":"two","files":["b.go"]}]}`},
		llm.MockReply{Content: `{"files":[{"content":"no path"}]}`},
		llm.MockReply{Content: `{"files":[{"file":"b.go","content":"package b"}]}`},
	)
	ctx := project.WithID(context.Background(), 1)

	sum, err := f.pipeline.Run(ctx, "two things")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"b.go"}, sum.FilesWritten)
	assert.FileExists(t, filepath.Join(f.root, "b.go"))
}

func TestRun_EmptyPlanIsRejected(t *testing.T) {
	f := newFixture(t, llm.MockReply{Content: `{"context":"nothing","tasks":[]}`})
	ctx := project.WithID(context.Background(), 1)

	_, err := f.pipeline.Run(ctx, "nothing")
	require.ErrorIs(t, err, agent.ErrSchemaViolation)

	var found bool
	for _, ev := range f.events.ofType(wire.Error) {
		if strings.HasPrefix(ev.Content, "Error handling delegator task:") {
			found = true
			assert.True(t, strings.HasPrefix(ev.Source, string(agent.Delegator)+"|"))
		}
	}
	assert.True(t, found, "expected delegator error event")
	assert.Len(t, f.mock.Requests(), 1)
}

func TestRun_DuplicateTasksRejected(t *testing.T) {
	f := newFixture(t, llm.MockReply{Content: `{"context":"c","tasks":[{"task":"same","files":[]},{"task":"same","files":[]}]}`})
	ctx := project.WithID(context.Background(), 1)

	_, err := f.pipeline.Run(ctx, "dup")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestRun_ReusesDelegator(t *testing.T) {
	plan := llm.MockReply{Content: `{"context":"c","tasks":[{"task":"t","files":[]}]}`}
	work := llm.MockReply{Content: `{"files":[]}`}
	f := newFixture(t, plan, work, plan, work)
	ctx := project.WithID(context.Background(), 1)

	_, err := f.pipeline.Run(ctx, "first")
	require.NoError(t, err)
	_, err = f.pipeline.Run(ctx, "second")
	require.NoError(t, err)

	requests := f.mock.Requests()
	require.Len(t, requests, 4)
	// The second plan request carries the first exchange in memory.
	assert.Greater(t, len(requests[2].Messages), len(requests[0].Messages))
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name string
		plan *Plan
		want []string
	}{
		{"nil", nil, []string{"plan is nil"}},
		{"no tasks", &Plan{Context: "c"}, []string{"plan has no tasks"}},
		{"valid", &Plan{Context: "c", Tasks: []Assignment{{Task: "a", Files: []string{"x.go"}}, {Task: "b"}}}, nil},
		{"blank task", &Plan{Tasks: []Assignment{{Task: ""}}}, []string{"tasks[0]: task is required"}},
		{"duplicate task", &Plan{Tasks: []Assignment{{Task: "a"}, {Task: "a"}}}, []string{`tasks[1]: duplicate task "a"`}},
		{"blank file", &Plan{Tasks: []Assignment{{Task: "a", Files: []string{""}}}}, []string{"tasks[0].files[0]: path is required"}},
		{"duplicate file", &Plan{Tasks: []Assignment{{Task: "a", Files: []string{"x", "x"}}}}, []string{`tasks[0].files[1]: duplicate file "x"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidatePlan(tt.plan))
		})
	}
}

func TestFileOwners(t *testing.T) {
	owners := FileOwners(&Plan{Tasks: []Assignment{
		{Task: "a", Files: []string{"x", "y"}},
		{Task: "b", Files: []string{"y"}},
	}})
	assert.Equal(t, map[string][]int{"x": {0}, "y": {0, 1}}, owners)
}
