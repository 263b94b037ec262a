package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yaver/internal/retrieval"
	"yaver/internal/task"
)

func TestExecutePromptAssembly(t *testing.T) {
	var gotSystem, gotPrompt string
	gen := &mockGenerator{
		CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
			gotSystem, gotPrompt = system, user
			return "response", nil
		},
	}
	retriever := &mockRetriever{
		RetrieveFunc: func(ctx context.Context, query string, k int) ([]retrieval.Note, error) {
			assert.Equal(t, 3, k)
			return []retrieval.Note{{Title: "Earlier login work", Content: "added the session store"}}, nil
		},
	}
	e := NewExecutor(gen, retriever, 3, t.TempDir())

	state := NewState("s1", "add authentication", "yaver-bot")
	dep := &task.Task{ID: "dep00001", Title: "Create user model", Status: task.StatusCompleted,
		Result: strings.Repeat("long result ", 30)}
	tk := &task.Task{ID: "task0001", Title: "Add login handler", Description: "POST /login",
		Status: task.StatusInProgress, Dependencies: []string{"dep00001"}}
	tk.AddComment("alice", "use bcrypt please")
	tk.AddComment("yaver-bot", "Modified files: x.go")
	require.NoError(t, state.AddTask(dep))
	require.NoError(t, state.AddTask(tk))

	out, err := e.Execute(context.Background(), state, tk)
	require.NoError(t, err)
	assert.Equal(t, "response", out)
	assert.Equal(t, taskSolverSystemPrompt, gotSystem)

	// All six context sections, in order.
	goalIdx := strings.Index(gotPrompt, "add authentication")
	taskIdx := strings.Index(gotPrompt, "Add login handler")
	depIdx := strings.Index(gotPrompt, "Create user model")
	noteIdx := strings.Index(gotPrompt, "Earlier login work")
	commentIdx := strings.Index(gotPrompt, "use bcrypt please")

	for name, idx := range map[string]int{
		"goal": goalIdx, "task": taskIdx, "dep": depIdx, "note": noteIdx, "comment": commentIdx,
	} {
		require.GreaterOrEqual(t, idx, 0, "missing %s section", name)
	}
	assert.Less(t, goalIdx, taskIdx)
	assert.Less(t, taskIdx, depIdx)
	assert.Less(t, depIdx, noteIdx)
	assert.Less(t, noteIdx, commentIdx)

	// Dependency results are truncated.
	assert.Contains(t, gotPrompt, "...")
	// The engine's own comments are not relayed back.
	assert.NotContains(t, gotPrompt, "Modified files: x.go")
}

func TestExecutePromptIncludesArchitecture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cmd", "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module app\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmd", "app", "main.go"), []byte("package main\n"), 0644))

	var gotPrompt string
	gen := &mockGenerator{
		CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
			gotPrompt = user
			return "ok", nil
		},
	}
	e := NewExecutor(gen, nil, 3, dir)

	state := NewState("s1", "goal", "yaver-bot")
	tk := &task.Task{ID: "t1", Title: "do it", Status: task.StatusInProgress}
	require.NoError(t, state.AddTask(tk))

	_, err := e.Execute(context.Background(), state, tk)
	require.NoError(t, err)
	assert.Contains(t, gotPrompt, "# Repository")
	assert.Contains(t, gotPrompt, "Architecture: Go application with cmd/ entrypoints")
}

func TestExecuteDeterministicPrompt(t *testing.T) {
	var prompts []string
	gen := &mockGenerator{
		CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
			prompts = append(prompts, user)
			return "ok", nil
		},
	}
	e := NewExecutor(gen, nil, 3, t.TempDir())
	state := NewState("s1", "goal", "yaver-bot")
	tk := &task.Task{ID: "t1", Title: "do it", Status: task.StatusInProgress}
	require.NoError(t, state.AddTask(tk))

	_, err := e.Execute(context.Background(), state, tk)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), state, tk)
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.Equal(t, prompts[0], prompts[1])
}

func TestGuessTargetFile(t *testing.T) {
	tk := &task.Task{Title: "Fix the bug in internal/auth/login.go quickly"}
	assert.Equal(t, "internal/auth/login.go", guessTargetFile(tk))

	none := &task.Task{Title: "General cleanup"}
	assert.Empty(t, guessTargetFile(none))
}
