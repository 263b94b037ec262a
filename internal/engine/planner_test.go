package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yaver/internal/config"
	"yaver/internal/task"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.SessionDir = t.TempDir()
	return cfg
}

func TestPlanCanonicalShape(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: func(ctx context.Context, prompt string) (map[string]any, error) {
			return map[string]any{
				"main_task": "Build the widget service",
				"subtasks":  []any{"Define the widget model", "Add the HTTP handler"},
				"priorities": map[string]any{
					"Define the widget model": "critical",
				},
				"dependencies": map[string]any{
					"Add the HTTP handler": []any{"Define the widget model"},
				},
				"estimated_complexity": "medium",
			}, nil
		},
	}
	p := NewPlanner(gen, testConfig(t))

	dec := p.Plan(context.Background(), "build widgets", "small repo")
	require.Len(t, dec.Subtasks, 2)
	assert.Equal(t, "Build the widget service", dec.MainTask)
	assert.Equal(t, "critical", dec.Priorities["Define the widget model"])
	assert.Equal(t, []string{"Define the widget model"}, dec.Dependencies["Add the HTTP handler"])
}

func TestPlanSalvagesTasksList(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: func(ctx context.Context, prompt string) (map[string]any, error) {
			return map[string]any{
				"tasks": []any{
					map[string]any{"title": "First thing", "priority": "high"},
					map[string]any{"title": "Second thing"},
				},
			}, nil
		},
	}
	p := NewPlanner(gen, testConfig(t))

	dec := p.Plan(context.Background(), "the goal", "")
	require.Equal(t, []string{"First thing", "Second thing"}, dec.Subtasks)
	assert.Equal(t, "high", dec.Priorities["First thing"])
	assert.Equal(t, "the goal", dec.MainTask, "missing main_task falls back to the goal")
}

func TestPlanSalvagesSingleObject(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: func(ctx context.Context, prompt string) (map[string]any, error) {
			return map[string]any{"title": "Just one task"}, nil
		},
	}
	p := NewPlanner(gen, testConfig(t))

	dec := p.Plan(context.Background(), "goal", "")
	assert.Equal(t, []string{"Just one task"}, dec.Subtasks)
}

func TestPlanSalvagesObjectSubtasks(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: func(ctx context.Context, prompt string) (map[string]any, error) {
			return map[string]any{
				"subtasks": []any{
					map[string]any{"description": "From description field"},
					"plain string subtask",
				},
			}, nil
		},
	}
	p := NewPlanner(gen, testConfig(t))

	dec := p.Plan(context.Background(), "goal", "")
	assert.Equal(t, []string{"From description field", "plain string subtask"}, dec.Subtasks)
}

func TestPlanFallsBackOnError(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: func(ctx context.Context, prompt string) (map[string]any, error) {
			return nil, errors.New("model unavailable")
		},
	}
	p := NewPlanner(gen, testConfig(t))

	dec := p.Plan(context.Background(), "fix the login bug", "")
	require.Equal(t, []string{"fix the login bug"}, dec.Subtasks)
	assert.Equal(t, "fix the login bug", dec.MainTask)
}

func TestPlanFallsBackOnEmptyPlan(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: func(ctx context.Context, prompt string) (map[string]any, error) {
			return map[string]any{"main_task": "something", "subtasks": []any{}}, nil
		},
	}
	p := NewPlanner(gen, testConfig(t))

	dec := p.Plan(context.Background(), "goal", "")
	assert.Equal(t, []string{"goal"}, dec.Subtasks)
}

func TestMaterialize(t *testing.T) {
	p := NewPlanner(&mockGenerator{}, testConfig(t))
	state := NewState("s1", "build widgets", "yaver-bot")

	dec := &task.Decomposition{
		MainTask: "Build widgets",
		Subtasks: []string{"Model", "Handler"},
		Priorities: map[string]string{
			"Model":   "critical",
			"Handler": "medium",
		},
		Dependencies: map[string][]string{
			"Handler": {"Model"},
		},
	}
	root, err := p.Materialize(state, dec)
	require.NoError(t, err)

	assert.Equal(t, task.StatusInProgress, root.Status)
	assert.Equal(t, task.PriorityHigh, root.Priority)
	require.Len(t, root.Subtasks, 2)

	model := state.Graph().Get(root.Subtasks[0])
	handler := state.Graph().Get(root.Subtasks[1])
	assert.Equal(t, task.StatusPending, model.Status)
	assert.Equal(t, task.PriorityCritical, model.Priority)
	assert.Equal(t, root.ID, model.ParentTaskID)
	assert.Equal(t, []string{model.ID}, handler.Dependencies)
}

func TestMaterializeCapsSubtasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.MaxTaskDepth = 1 // cap = 3
	p := NewPlanner(&mockGenerator{}, cfg)
	state := NewState("s1", "goal", "yaver-bot")

	dec := &task.Decomposition{
		MainTask:     "big plan",
		Subtasks:     []string{"a", "b", "c", "d", "e"},
		Priorities:   map[string]string{},
		Dependencies: map[string][]string{},
	}
	root, err := p.Materialize(state, dec)
	require.NoError(t, err)
	assert.Len(t, root.Subtasks, 3)
}

func TestMaterializeDropsUnresolvedDeps(t *testing.T) {
	p := NewPlanner(&mockGenerator{}, testConfig(t))
	state := NewState("s1", "goal", "yaver-bot")

	dec := &task.Decomposition{
		MainTask:   "plan",
		Subtasks:   []string{"Only task"},
		Priorities: map[string]string{},
		Dependencies: map[string][]string{
			"Only task": {"Task that does not exist"},
		},
	}
	root, err := p.Materialize(state, dec)
	require.NoError(t, err)

	only := state.Graph().Get(root.Subtasks[0])
	assert.Empty(t, only.Dependencies)
}

func TestMaterializeDropsCyclicDependencies(t *testing.T) {
	p := NewPlanner(&mockGenerator{}, testConfig(t))
	state := NewState("s1", "goal", "yaver-bot")

	dec := &task.Decomposition{
		MainTask:   "plan",
		Subtasks:   []string{"a", "b"},
		Priorities: map[string]string{},
		Dependencies: map[string][]string{
			"a": {"b"},
			"b": {"a"},
		},
	}
	root, err := p.Materialize(state, dec)
	require.NoError(t, err)

	for _, id := range root.Subtasks {
		assert.Empty(t, state.Graph().Get(id).Dependencies)
	}
}
