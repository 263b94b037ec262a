package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepo initialises a real git repository in a temp dir with one
// commit on main.
func newTestRepo(t *testing.T) (*Git, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644))

	g := NewGit(dir, "origin", 30*time.Second)
	ctx := context.Background()
	require.NoError(t, g.Add(ctx, "README.md"))
	require.NoError(t, g.Commit(ctx, "initial"))
	return g, dir
}

func TestActiveBranch(t *testing.T) {
	g, _ := newTestRepo(t)
	branch, err := g.ActiveBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCreateBranchAndExists(t *testing.T) {
	g, _ := newTestRepo(t)
	ctx := context.Background()

	exists, err := g.BranchExists(ctx, "yaver-task-deadbeef")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, g.CreateBranch(ctx, "yaver-task-deadbeef"))

	branch, err := g.ActiveBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "yaver-task-deadbeef", branch)

	exists, err = g.BranchExists(ctx, "yaver-task-deadbeef")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIsDirty(t *testing.T) {
	g, dir := newTestRepo(t)
	ctx := context.Background()

	dirty, err := g.IsDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0644))
	dirty, err = g.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestCommitFlow(t *testing.T) {
	g, dir := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0644))
	require.NoError(t, g.Add(ctx, "a.txt"))
	require.NoError(t, g.Commit(ctx, "add a"))

	dirty, err := g.IsDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestMergeConflictLeavesMarkers(t *testing.T) {
	g, dir := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, g.CreateBranch(ctx, "feature"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# feature\n"), 0644))
	require.NoError(t, g.Add(ctx, "README.md"))
	require.NoError(t, g.Commit(ctx, "feature change"))

	require.NoError(t, g.Checkout(ctx, "main"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# main\n"), 0644))
	require.NoError(t, g.Add(ctx, "README.md"))
	require.NoError(t, g.Commit(ctx, "main change"))

	err := g.Merge(ctx, "feature")
	require.Error(t, err)

	data, readErr := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "<<<<<<<")
}

func TestCheckoutForceDiscardsChanges(t *testing.T) {
	g, dir := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("dirty\n"), 0644))
	require.NoError(t, g.CheckoutForce(ctx, "main"))

	data, err := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# test\n", string(data))
}
