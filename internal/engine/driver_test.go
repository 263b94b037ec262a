package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yaver/internal/config"
	"yaver/internal/forge"
	"yaver/internal/task"
)

// planOf builds a CompleteStructured stub returning the given subtasks.
func planOf(mainTask string, subtasks []string, deps map[string][]string) func(context.Context, string) (map[string]any, error) {
	return func(ctx context.Context, prompt string) (map[string]any, error) {
		rawSubtasks := make([]any, len(subtasks))
		for i, s := range subtasks {
			rawSubtasks[i] = s
		}
		rawDeps := make(map[string]any, len(deps))
		for k, v := range deps {
			rawList := make([]any, len(v))
			for i, d := range v {
				rawList[i] = d
			}
			rawDeps[k] = rawList
		}
		return map[string]any{
			"main_task":    mainTask,
			"subtasks":     rawSubtasks,
			"dependencies": rawDeps,
		}, nil
	}
}

// solverOf builds a CompleteWithSystem stub emitting one file block.
func solverOf(path string) func(context.Context, string, string) (string, error) {
	return func(ctx context.Context, system, user string) (string, error) {
		return "```go:" + path + "\npackage out\n```\n\nDone with this step.", nil
	}
}

type driverFixture struct {
	driver *Driver
	state  *State
	vcs    *mockVCS
	memory *mockMemory
	cfg    *config.Config
}

func newDriverFixture(t *testing.T, gen *mockGenerator, f forge.Client) *driverFixture {
	t.Helper()
	cfg := testConfig(t)
	workDir := t.TempDir()
	v := newMockVCS()
	mem := &mockMemory{}

	planner := NewPlanner(gen, cfg)
	executor := NewExecutor(gen, nil, cfg.Retrieval.TopK, workDir)
	applier := NewApplier(v, gen, workDir, cfg.Git.DefaultBranch, cfg.Engine.SyntaxRepairAttempts)

	var monitor *Monitor
	if f != nil {
		monitor = NewMonitor(f)
	}

	return &driverFixture{
		driver: NewDriver(cfg, planner, executor, applier, monitor, f, v, mem),
		state:  NewState("test-session", "build widgets", "yaver-bot"),
		vcs:    v,
		memory: mem,
		cfg:    cfg,
	}
}

func callsContaining(calls []string, substr string) []string {
	var out []string
	for _, c := range calls {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

func TestRunCompletesPlanWithBundledCommit(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Build widgets", []string{"Define model", "Add handler"},
			map[string][]string{"Add handler": {"Define model"}}),
		CompleteWithSystemFunc: solverOf("widget.go"),
	}
	fx := newDriverFixture(t, gen, nil)

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	g := fx.state.Graph()
	root := g.Root()
	assert.Equal(t, task.StatusCompleted, root.Status)

	model := g.Get(root.Subtasks[0])
	handler := g.Get(root.Subtasks[1])
	assert.Equal(t, task.StatusCompleted, model.Status)
	assert.Equal(t, task.StatusCompleted, handler.Status)
	assert.Equal(t, 1, model.Iteration)
	assert.Equal(t, 2, handler.Iteration)
	assert.Equal(t, "Done with this step.", model.Result)

	// One bundled commit named after the root, pushed.
	commits := callsContaining(fx.vcs.Calls(), "commit ")
	require.Len(t, commits, 1)
	assert.Equal(t, "commit feat: Build widgets (Task "+root.ShortID()+")", commits[0])
	assert.NotEmpty(t, callsContaining(fx.vcs.Calls(), "push "))

	// Both completions were written back to memory.
	assert.Len(t, fx.memory.Notes(), 2)

	// The session file exists and round-trips.
	_, err := os.Stat(filepath.Join(fx.cfg.Engine.SessionDir, "test-session.json"))
	require.NoError(t, err)
	loaded, err := LoadState(fx.cfg.Engine.SessionDir, "test-session")
	require.NoError(t, err)
	assert.Equal(t, len(fx.state.Tasks), loaded.Graph().Len())
}

func TestRunEmptyGoal(t *testing.T) {
	fx := newDriverFixture(t, &mockGenerator{}, nil)
	fx.state.Goal = "   "
	assert.ErrorIs(t, fx.driver.Run(context.Background(), fx.state), ErrNoTasks)
}

func TestRunBudgetExhausted(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Big plan", []string{"a", "b", "c"}, nil),
		CompleteWithSystemFunc: solverOf("x.go"),
	}
	fx := newDriverFixture(t, gen, nil)
	fx.cfg.Engine.MaxIterations = 1

	err := fx.driver.Run(context.Background(), fx.state)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 1, fx.state.Graph().CountByStatus(task.StatusCompleted))
	assert.Equal(t, 2, fx.state.Graph().CountByStatus(task.StatusPending))
}

func TestRunMarksDependentsOfFailureBlocked(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Plan", []string{"First step", "Second step"},
			map[string][]string{"Second step": {"First step"}}),
		CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
			return "", errors.New("model exploded")
		},
	}
	fx := newDriverFixture(t, gen, nil)

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	g := fx.state.Graph()
	root := g.Root()
	first := g.Get(root.Subtasks[0])
	second := g.Get(root.Subtasks[1])

	assert.Equal(t, task.StatusFailed, first.Status)
	assert.Contains(t, first.Error, "model exploded")
	assert.Equal(t, task.StatusBlocked, second.Status)
	// The root is not completed when children failed.
	assert.Equal(t, task.StatusInProgress, root.Status)
}

func TestRunFeedbackTaskShipsImmediately(t *testing.T) {
	served := false
	f := &mockForge{
		GetPRFunc: func(ctx context.Context, number int) (*forge.PullRequest, error) {
			return &forge.PullRequest{Number: number, State: "open", HeadBranch: "yaver-task-orig0001", BaseBranch: "main"}, nil
		},
		ListCommentsFunc: func(ctx context.Context, number int) ([]forge.Comment, error) {
			if served {
				return nil, nil
			}
			served = true
			return []forge.Comment{
				{ID: 77, Author: forge.User{Login: "alice"}, Body: "Please also validate the input"},
			}, nil
		},
	}
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Plan", []string{"Planned step"}, nil),
		CompleteWithSystemFunc: solverOf("fix.go"),
	}
	fx := newDriverFixture(t, gen, f)
	fx.state.PR(5, "yaver-task-orig0001")

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	// The feedback fix was committed and pushed to the PR branch right
	// away, not bundled.
	calls := fx.vcs.Calls()
	fixCommits := callsContaining(calls, "commit fix: address PR #5 feedback")
	require.Len(t, fixCommits, 1)
	assert.NotEmpty(t, callsContaining(calls, "push yaver-task-orig0001"))
	assert.NotEmpty(t, callsContaining(calls, "checkout-force yaver-task-orig0001"))
}

func TestRunReproducesConflictBeforeExecution(t *testing.T) {
	served := false
	f := &mockForge{
		GetPRFunc: func(ctx context.Context, number int) (*forge.PullRequest, error) {
			return &forge.PullRequest{Number: number, State: "open", HeadBranch: "yaver-task-orig0001", BaseBranch: "main"}, nil
		},
		ListCommentsFunc: func(ctx context.Context, number int) ([]forge.Comment, error) {
			if served {
				return nil, nil
			}
			served = true
			return []forge.Comment{
				{ID: 88, Author: forge.User{Login: "alice"}, Body: "there is a merge conflict with main, please resolve it"},
			}, nil
		},
	}
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Plan", []string{"Planned step"}, nil),
		CompleteWithSystemFunc: solverOf("resolved.go"),
	}
	fx := newDriverFixture(t, gen, f)
	fx.vcs.MergeFunc = func(ctx context.Context, ref string) error {
		return errors.New("merge conflict in resolved.go")
	}
	fx.state.PR(5, "yaver-task-orig0001")

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	calls := fx.vcs.Calls()
	assert.NotEmpty(t, callsContaining(calls, "fetch"))
	assert.NotEmpty(t, callsContaining(calls, "merge origin/main"))
	assert.NotEmpty(t, callsContaining(calls, "checkout-force yaver-task-orig0001"))
}

func TestRunDiscoversExistingPRForActiveBranch(t *testing.T) {
	served := false
	f := &mockForge{
		FindPRByBranchFunc: func(ctx context.Context, branch string) (*forge.PullRequest, error) {
			if branch == "feature-login" {
				return &forge.PullRequest{Number: 9, State: "open", HeadBranch: branch, BaseBranch: "main"}, nil
			}
			return nil, forge.ErrNotFound
		},
		GetPRFunc: func(ctx context.Context, number int) (*forge.PullRequest, error) {
			return &forge.PullRequest{Number: number, State: "open", HeadBranch: "feature-login", BaseBranch: "main"}, nil
		},
		ListCommentsFunc: func(ctx context.Context, number int) ([]forge.Comment, error) {
			if served {
				return nil, nil
			}
			served = true
			return []forge.Comment{
				{ID: 44, Author: forge.User{Login: "alice"}, Body: "Please tighten the validation"},
			}, nil
		},
	}
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Plan", []string{"Planned step"}, nil),
		CompleteWithSystemFunc: solverOf("login.go"),
	}
	fx := newDriverFixture(t, gen, f)
	// The session starts on a feature branch somebody already opened a
	// PR for; nothing was pushed by this session yet.
	fx.vcs.branches["feature-login"] = true
	fx.vcs.active = "feature-login"

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	require.NotEmpty(t, fx.state.ActivePRs)
	assert.Equal(t, 9, fx.state.ActivePRs[0].Number)
	assert.Equal(t, "feature-login", fx.state.ActivePRs[0].Branch)

	// The comment on that PR was picked up and answered as feedback.
	feedback := 0
	for _, tk := range fx.state.Tasks {
		if tk.MetaBool(task.MetaPRFeedback) {
			feedback++
		}
	}
	assert.Equal(t, 1, feedback)
}

func TestRunBundleIgnoresPreexistingWorktreeChanges(t *testing.T) {
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Plan", []string{"Answer a question"}, nil),
		CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
			return "No file changes are needed; the existing handler already covers this.", nil
		},
	}
	fx := newDriverFixture(t, gen, nil)
	// Somebody left uncommitted local edits in the worktree before the
	// session started.
	fx.vcs.dirty = true

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	assert.Empty(t, fx.state.StagedFiles)
	assert.Empty(t, callsContaining(fx.vcs.Calls(), "commit "),
		"a session that applied nothing must not commit")
}

func TestRunCommitPerTaskOpensPR(t *testing.T) {
	var createdPR [2]string
	f := &mockForge{
		CreatePRFunc: func(ctx context.Context, title, body, head, base string) (*forge.PullRequest, error) {
			createdPR = [2]string{head, base}
			return &forge.PullRequest{Number: 3, State: "open", HeadBranch: head, BaseBranch: base}, nil
		},
	}
	gen := &mockGenerator{
		CompleteStructuredFunc: planOf("Plan", []string{"Add widget and open a pull request"}, nil),
		CompleteWithSystemFunc: solverOf("widget.go"),
	}
	fx := newDriverFixture(t, gen, f)
	fx.cfg.Engine.CommitPerTask = true

	require.NoError(t, fx.driver.Run(context.Background(), fx.state))

	commits := callsContaining(fx.vcs.Calls(), "commit feat: Add widget")
	require.Len(t, commits, 1)
	assert.Contains(t, createdPR[0], "yaver-task-")
	assert.Equal(t, "main", createdPR[1])
}
