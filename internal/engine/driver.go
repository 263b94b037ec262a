package engine

import (
	"context"
	"fmt"
	"strings"

	"yaver/internal/config"
	"yaver/internal/forge"
	"yaver/internal/logging"
	"yaver/internal/task"
	"yaver/internal/vcs"
)

// Memory is the write side of the note store. Nil disables write-back.
type Memory interface {
	Remember(ctx context.Context, taskID, title, content string) error
}

// Driver runs the iteration loop: pick a task, execute it, apply the
// result, react to PR feedback, until the plan is done or the budget
// runs out.
type Driver struct {
	cfg      *config.Config
	planner  *Planner
	executor *Executor
	applier  *Applier
	monitor  *Monitor // nil without a forge
	forge    forge.Client
	vcs      vcs.VersionControl
	memory   Memory
}

// NewDriver wires a driver. monitor and forgeClient may be nil for
// purely local sessions; memory may be nil to disable write-back.
func NewDriver(cfg *config.Config, planner *Planner, executor *Executor, applier *Applier,
	monitor *Monitor, forgeClient forge.Client, v vcs.VersionControl, memory Memory) *Driver {
	return &Driver{
		cfg:      cfg,
		planner:  planner,
		executor: executor,
		applier:  applier,
		monitor:  monitor,
		forge:    forgeClient,
		vcs:      v,
		memory:   memory,
	}
}

// Run executes a full session for the goal. The returned error is
// ErrBudgetExhausted when iterations ran out with work pending; the
// session state is saved either way.
func (d *Driver) Run(ctx context.Context, state *State) error {
	if strings.TrimSpace(state.Goal) == "" {
		return ErrNoTasks
	}

	timer := logging.StartTimer(logging.CategoryEngine, "session")
	defer timer.StopWithInfo()

	dec := d.planner.Plan(ctx, state.Goal, d.executor.repoSummary)
	root, err := d.planner.Materialize(state, dec)
	if err != nil {
		return fmt.Errorf("failed to materialize plan: %w", err)
	}
	d.saveState(state)

	for iteration := 1; iteration <= d.cfg.Engine.MaxIterations; iteration++ {
		state.Iteration = iteration

		// Feedback first: a reactive task may outrank the planned work.
		if d.monitor != nil {
			if len(state.ActivePRs) == 0 {
				// A PR may already exist for the checked-out branch,
				// opened by a human or a previous session.
				if branch, err := d.vcs.ActiveBranch(ctx); err == nil && branch != d.cfg.Git.DefaultBranch {
					d.monitor.Discover(ctx, state, branch)
				}
			}
			if err := d.monitor.Check(ctx, state); err != nil {
				logging.EngineWarn("monitor check failed: %v", err)
			}
		}

		t := NextTask(state.Graph())
		if t == nil {
			break
		}

		t.Iteration = iteration
		if err := state.Graph().Transition(t.ID, task.StatusInProgress); err != nil {
			return err
		}
		state.Log("select", t.ID, "iteration %d: %s", iteration, t.Title)
		logging.Engine("iteration %d/%d: task %s (%s)", iteration, d.cfg.Engine.MaxIterations, t.ID, t.Title)

		if t.MetaBool(task.MetaConflictResolution) {
			if err := d.reproduceConflict(ctx, t); err != nil {
				logging.EngineWarn("conflict reproduction for task %s failed: %v", t.ID, err)
			}
		}

		d.runTask(ctx, state, t)
		d.saveState(state)

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	// Dependents of failed tasks can never run; mark them at exit.
	for _, t := range PendingBlockedByFailure(state.Graph()) {
		if err := state.Graph().Transition(t.ID, task.StatusBlocked); err == nil {
			state.Log("select", t.ID, "blocked: dependency failed")
		}
	}

	err = d.finish(ctx, state, root)
	d.saveState(state)
	return err
}

// runTask executes and applies one task, recording the outcome on the
// task itself. Failures are terminal for the task, not the session.
func (d *Driver) runTask(ctx context.Context, state *State, t *task.Task) {
	response, err := d.executor.Execute(ctx, state, t)
	if err != nil {
		d.failTask(state, t, fmt.Errorf("execution failed: %w", err))
		return
	}

	res, err := d.applier.Apply(ctx, t, state.Goal, response)
	if err != nil {
		d.failTask(state, t, fmt.Errorf("apply failed: %w", err))
		return
	}

	t.Result = res.Summary
	if len(res.SyntaxErrors) > 0 {
		t.AddComment("yaver", "Unresolved syntax errors: "+strings.Join(res.SyntaxErrors, "; "))
	}
	for _, f := range res.Findings {
		t.AddComment("yaver", fmt.Sprintf("%s:%d [%s] %s", f.File, f.Line, f.Scanner, f.Message))
	}

	if err := state.Graph().Transition(t.ID, task.StatusCompleted); err != nil {
		logging.EngineWarn("completion transition for task %s: %v", t.ID, err)
		return
	}
	state.Log("execute", t.ID, "completed on %s (%d files)", res.Branch, len(res.Files))

	if shipped := d.deliver(ctx, state, t, res); !shipped && len(res.Files) > 0 {
		state.StagedFiles = append(state.StagedFiles, res.Files...)
	}
	d.remember(ctx, t)
}

func (d *Driver) failTask(state *State, t *task.Task, err error) {
	t.Error = err.Error()
	if terr := state.Graph().Transition(t.ID, task.StatusFailed); terr != nil {
		logging.EngineWarn("failure transition for task %s: %v", t.ID, terr)
	}
	state.Log("execute", t.ID, "failed: %v", err)
	logging.EngineWarn("task %s failed: %v", t.ID, err)
}

// deliver pushes the task's changes when they must leave the machine
// now: feedback fixes always ship immediately, and per-task commit mode
// ships every task. It reports whether the files were committed; files
// it leaves behind go into the session-end bundle commit.
func (d *Driver) deliver(ctx context.Context, state *State, t *task.Task, res *ApplyResult) bool {
	if len(res.Files) == 0 {
		return false
	}

	feedback := t.MetaBool(task.MetaPRFeedback)
	if !feedback && !d.cfg.Engine.CommitPerTask {
		return false
	}

	message := fmt.Sprintf("feat: %s (Task %s)", t.Title, t.ShortID())
	if feedback {
		message = fmt.Sprintf("fix: address PR #%d feedback (Task %s)", prNumber(t), t.ShortID())
	}

	if err := d.vcs.Commit(ctx, message); err != nil {
		logging.EngineWarn("commit for task %s failed: %v", t.ID, err)
		return false
	}
	if err := d.vcs.Push(ctx, res.Branch); err != nil {
		logging.EngineWarn("push of %s failed: %v", res.Branch, err)
		return true
	}
	state.Log("commit", t.ID, "pushed %s", res.Branch)

	if d.forge != nil {
		d.ensurePR(ctx, state, t, res)
	}
	return true
}

// ensurePR opens a PR for the branch if the task asked for one and none
// exists, then starts monitoring it.
func (d *Driver) ensurePR(ctx context.Context, state *State, t *task.Task, res *ApplyResult) {
	if d.monitor != nil {
		defer d.monitor.Discover(ctx, state, res.Branch)
	}
	if !res.WantsPR || t.MetaBool(task.MetaPRFeedback) {
		return
	}
	if _, err := d.forge.FindPRByBranch(ctx, res.Branch); err == nil {
		return
	}
	pr, err := d.forge.CreatePR(ctx, t.Title, t.Result, res.Branch, d.cfg.Git.DefaultBranch)
	if err != nil {
		logging.EngineWarn("failed to open PR for %s: %v", res.Branch, err)
		return
	}
	state.Log("commit", t.ID, "opened PR #%d", pr.Number)
	logging.Engine("opened PR #%d for %s", pr.Number, res.Branch)
}

// reproduceConflict puts the worktree into the conflicted state the
// comment reported: PR branch checked out, base merged in, markers in
// the files. The executor then sees the real conflict content.
func (d *Driver) reproduceConflict(ctx context.Context, t *task.Task) error {
	branch := t.MetaString(task.MetaPRBranch)
	if branch == "" {
		return fmt.Errorf("conflict task %s has no pr_branch", t.ID)
	}
	if err := d.vcs.Fetch(ctx); err != nil {
		return err
	}
	if err := d.vcs.CheckoutForce(ctx, branch); err != nil {
		return err
	}
	// The merge is expected to fail; the markers it leaves behind are
	// the point.
	if err := d.vcs.Merge(ctx, d.cfg.Git.Remote+"/"+d.cfg.Git.DefaultBranch); err != nil {
		logging.Engine("reproduced conflict on %s: %v", branch, err)
	}
	return nil
}

// finish closes out the session: completes the root, makes the bundled
// commit, and reports budget exhaustion.
func (d *Driver) finish(ctx context.Context, state *State, root *task.Task) error {
	if state.Graph().RootComplete() {
		if err := state.Graph().Transition(root.ID, task.StatusCompleted); err != nil {
			logging.EngineWarn("root completion: %v", err)
		}
	}

	if !d.cfg.Engine.CommitPerTask {
		d.bundleCommit(ctx, state, root)
	}

	pending := state.Graph().CountByStatus(task.StatusPending)
	if pending > 0 {
		logging.EngineWarn("session ended with %d tasks pending", pending)
		return ErrBudgetExhausted
	}
	logging.Engine("session %s finished: %d completed, %d failed, %d blocked",
		state.SessionID,
		state.Graph().CountByStatus(task.StatusCompleted),
		state.Graph().CountByStatus(task.StatusFailed),
		state.Graph().CountByStatus(task.StatusBlocked))
	return nil
}

// bundleCommit commits the files the session staged as one commit named
// after the root task and pushes the active branch. It keys off the
// session's own staged set, not worktree dirtiness, so pre-existing
// local changes are never swept into the commit.
func (d *Driver) bundleCommit(ctx context.Context, state *State, root *task.Task) {
	if len(state.StagedFiles) == 0 {
		return
	}
	message := fmt.Sprintf("feat: %s (Task %s)", root.Title, root.ShortID())
	if err := d.vcs.Commit(ctx, message); err != nil {
		logging.EngineWarn("bundle commit failed: %v", err)
		return
	}
	state.StagedFiles = nil
	branch, err := d.vcs.ActiveBranch(ctx)
	if err != nil {
		logging.EngineWarn("cannot determine branch for push: %v", err)
		return
	}
	if err := d.vcs.Push(ctx, branch); err != nil {
		logging.EngineWarn("push of %s failed: %v", branch, err)
		return
	}
	state.Log("commit", root.ID, "bundled session commit pushed to %s", branch)

	if d.monitor != nil {
		d.monitor.Discover(ctx, state, branch)
	}
}

// remember writes a completed task's outcome to the note store.
func (d *Driver) remember(ctx context.Context, t *task.Task) {
	if d.memory == nil || t.Result == "" {
		return
	}
	if err := d.memory.Remember(ctx, t.ID, t.Title, t.Result); err != nil {
		logging.EngineWarn("memory write-back for task %s failed: %v", t.ID, err)
	}
}

func (d *Driver) saveState(state *State) {
	if err := state.Save(d.cfg.Engine.SessionDir); err != nil {
		logging.EngineWarn("failed to save session: %v", err)
	}
}

func prNumber(t *task.Task) int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata[task.MetaPRID].(type) {
	case int:
		return v
	case float64: // JSON round-trip
		return int(v)
	}
	return 0
}
