package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"yaver/internal/forge"
	"yaver/internal/logging"
	"yaver/internal/task"
)

// Monitor watches the session's pull requests and converts unseen human
// comments into new high-priority tasks. Every comment is acknowledged
// on the forge before the work is scheduled, so the author knows the
// agent saw it even if execution takes a while.
type Monitor struct {
	forge forge.Client
}

// NewMonitor creates a monitor.
func NewMonitor(f forge.Client) *Monitor {
	return &Monitor{forge: f}
}

// ackMessage is the acknowledgement posted in reply to feedback.
const ackMessage = "👀 I've seen your feedback: '%s'\n\nI'm starting to work on this now. I'll push the fixes shortly."

// conflictKeywords classify a comment as asking for conflict
// resolution rather than a code change.
var conflictKeywords = []string{"conflict", "merge", "resolve"}

// Discover looks up an open PR for the branch and starts tracking it.
// Branches without a PR are not an error; the PR may be opened later.
func (m *Monitor) Discover(ctx context.Context, state *State, branch string) {
	pr, err := m.forge.FindPRByBranch(ctx, branch)
	if err != nil {
		if !errors.Is(err, forge.ErrNotFound) {
			logging.MonitorWarn("PR discovery for %s failed: %v", branch, err)
		}
		return
	}
	tracked := state.PR(pr.Number, pr.HeadBranch)
	logging.Monitor("tracking PR #%d (%s), %d comments already processed",
		tracked.Number, tracked.Branch, len(tracked.ProcessedCommentIDs))
}

// Check polls every tracked PR once and spawns tasks for new feedback.
// Closed PRs stay in the session but are skipped.
func (m *Monitor) Check(ctx context.Context, state *State) error {
	for _, tracked := range state.ActivePRs {
		pr, err := m.forge.GetPR(ctx, tracked.Number)
		if err != nil {
			logging.MonitorWarn("failed to fetch PR #%d: %v", tracked.Number, err)
			continue
		}
		if pr.State != "open" {
			logging.MonitorDebug("PR #%d is %s, skipping", pr.Number, pr.State)
			continue
		}
		if err := m.checkPR(ctx, state, tracked); err != nil {
			logging.MonitorWarn("feedback check for PR #%d failed: %v", tracked.Number, err)
		}
	}
	return nil
}

func (m *Monitor) checkPR(ctx context.Context, state *State, tracked *ActivePR) error {
	comments, err := m.forge.ListComments(ctx, tracked.Number)
	if err != nil {
		return err
	}

	for _, c := range comments {
		if tracked.ProcessedCommentIDs[c.ID] {
			continue
		}
		if c.Author.Login == state.Agent {
			tracked.ProcessedCommentIDs[c.ID] = true
			continue
		}

		tracked.ProcessedCommentIDs[c.ID] = true
		logging.Monitor("new feedback on PR #%d from %s: %s",
			tracked.Number, c.Author.Login, truncate(c.Body, 80))

		if err := m.forge.AddReaction(ctx, c.ID, "eyes"); err != nil {
			logging.MonitorWarn("failed to react to comment %d: %v", c.ID, err)
		}
		ack, err := m.forge.CreateComment(ctx, tracked.Number,
			fmt.Sprintf(ackMessage, truncate(c.Body, 200)))
		if err != nil {
			logging.MonitorWarn("failed to acknowledge comment %d: %v", c.ID, err)
		} else {
			// Our own ack must never be treated as fresh feedback.
			tracked.ProcessedCommentIDs[ack.ID] = true
		}

		t := m.spawnFeedbackTask(state, tracked, c)
		state.Log("feedback", t.ID, "comment %d on PR #%d spawned task", c.ID, tracked.Number)
	}
	return nil
}

// spawnFeedbackTask creates the high-priority task that addresses one
// comment. Conflict-shaped comments get the conflict-resolution flag;
// the driver reproduces the conflict locally before execution.
func (m *Monitor) spawnFeedbackTask(state *State, tracked *ActivePR, c forge.Comment) *task.Task {
	conflict := isConflictComment(c.Body)

	title := fmt.Sprintf("Address feedback on PR #%d", tracked.Number)
	if conflict {
		title = fmt.Sprintf("Resolve merge conflict in PR #%d", tracked.Number)
	}

	parentID := ""
	if root := state.Graph().Root(); root != nil {
		parentID = root.ID
	}

	t := &task.Task{
		ID:           task.NewID(),
		Title:        title,
		Description:  c.Body,
		Priority:     task.PriorityHigh,
		Status:       task.StatusPending,
		ParentTaskID: parentID,
		Metadata: map[string]any{
			task.MetaPRFeedback:           true,
			task.MetaPRID:                 tracked.Number,
			task.MetaPRBranch:             tracked.Branch,
			task.MetaSkipBranchCreation:   true,
			task.MetaOriginatingCommentID: c.ID,
		},
	}
	if conflict {
		t.Metadata[task.MetaConflictResolution] = true
	}
	t.AddComment(c.Author.Login, c.Body)

	if err := state.AddTask(t); err != nil {
		// Collision on an 8-char ID; retry once with a fresh one.
		t.ID = task.NewID()
		if err := state.AddTask(t); err != nil {
			logging.MonitorWarn("failed to add feedback task: %v", err)
			return t
		}
	}
	if root := state.Graph().Get(parentID); root != nil {
		root.Subtasks = append(root.Subtasks, t.ID)
	}
	return t
}

func isConflictComment(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range conflictKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
