// Package vcs wraps the git CLI for the engine's branch, commit and
// merge operations. The CLI is used rather than a pure-Go git so that
// merges produce standard conflict markers and PR head refs
// (refs/pull/N/head) resolve exactly as they do for a human operator.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"yaver/internal/logging"
)

// VersionControl is the surface the applier, monitor and driver use.
type VersionControl interface {
	ActiveBranch(ctx context.Context) (string, error)
	BranchExists(ctx context.Context, name string) (bool, error)
	CreateBranch(ctx context.Context, name string) error
	Checkout(ctx context.Context, ref string) error
	CheckoutForce(ctx context.Context, ref string) error
	CheckoutPR(ctx context.Context, number int, localBranch string) error
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context, branch string) error
	Fetch(ctx context.Context) error
	Pull(ctx context.Context, branch string) error
	Merge(ctx context.Context, ref string) error
	IsDirty(ctx context.Context) (bool, error)
	Diff(ctx context.Context, ref string) (string, error)
}

// Git runs git against a working directory with a per-command timeout.
type Git struct {
	workDir string
	remote  string
	timeout time.Duration
}

// NewGit creates a CLI-backed VersionControl for workDir.
func NewGit(workDir, remote string, timeout time.Duration) *Git {
	if remote == "" {
		remote = "origin"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Git{workDir: workDir, remote: remote, timeout: timeout}
}

// run executes one git command and returns its combined output.
// Conflict-producing commands (merge, pull) return the output alongside
// the error so callers can inspect the markers.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir

	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		logging.GitWarn("git %s failed: %v: %s", strings.Join(args, " "), err, out)
		return out, fmt.Errorf("git %s: %w: %s", args[0], err, out)
	}
	logging.Git("git %s", strings.Join(args, " "))
	return out, nil
}

// ActiveBranch returns the currently checked out branch name.
func (g *Git) ActiveBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch with the name exists.
func (g *Git) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 1") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateBranch creates and checks out a new branch from HEAD.
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing ref.
func (g *Git) Checkout(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "checkout", ref)
	return err
}

// CheckoutForce switches to a ref discarding local modifications.
// Used when moving onto a PR branch for feedback work; the engine's
// session state is the source of truth, not the worktree.
func (g *Git) CheckoutForce(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "checkout", "--force", ref)
	return err
}

// CheckoutPR fetches a pull request head ref into a local branch and
// checks it out. Works on any forge that serves refs/pull/N/head.
func (g *Git) CheckoutPR(ctx context.Context, number int, localBranch string) error {
	ref := "refs/pull/" + strconv.Itoa(number) + "/head"
	if _, err := g.run(ctx, "fetch", g.remote, ref+":"+localBranch); err != nil {
		return err
	}
	return g.CheckoutForce(ctx, localBranch)
}

// Add stages the given paths.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// Commit records staged changes. An empty index is an error; callers
// check IsDirty first.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// Push pushes a branch to the remote, creating it upstream if needed.
func (g *Git) Push(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "push", "--set-upstream", g.remote, branch)
	return err
}

// Fetch updates remote tracking refs.
func (g *Git) Fetch(ctx context.Context) error {
	_, err := g.run(ctx, "fetch", g.remote)
	return err
}

// Pull fast-forwards or merges the branch from the remote.
func (g *Git) Pull(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "pull", g.remote, branch)
	return err
}

// Merge merges ref into the current branch. On conflict the worktree
// is left with conflict markers in place for the resolution task.
func (g *Git) Merge(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "merge", "--no-edit", ref)
	return err
}

// IsDirty reports whether the worktree or index has any changes.
func (g *Git) IsDirty(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Diff returns the diff of the worktree against ref.
func (g *Git) Diff(ctx context.Context, ref string) (string, error) {
	return g.run(ctx, "diff", ref)
}
