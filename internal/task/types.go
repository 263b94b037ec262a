// Package task defines the unit of work the engine schedules and the
// graph that holds a session's plan. Tasks reference each other by ID
// only; parent/child and dependency navigation goes through the Graph.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"     // Not started
	StatusInProgress Status = "in_progress" // Currently executing
	StatusCompleted  Status = "completed"   // Finished successfully
	StatusFailed     Status = "failed"      // Failed (terminal, no automatic retry)
	StatusBlocked    Status = "blocked"     // A dependency failed; will never run
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// Priority represents task priority levels.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank orders priorities for scheduling; lower wins.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the scheduling rank of a priority. Unknown priorities
// sort last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return 99
}

// ParsePriority maps a free-form string from the planner to a Priority,
// defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Comment is a note attached to a task, from the engine itself or
// relayed from a forge conversation.
type Comment struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata keys recognised by the engine. The branch and conflict
// behaviour of the applier and driver is keyed on these flags rather
// than on a task-kind enum, so the monitor can introduce new behaviours
// without schema changes.
const (
	MetaPRFeedback           = "is_pr_feedback"
	MetaConflictResolution   = "is_conflict_resolution"
	MetaPRID                 = "pr_id"
	MetaPRBranch             = "pr_branch"
	MetaSkipBranchCreation   = "skip_branch_creation"
	MetaOriginatingCommentID = "originating_comment_id"
)

// Task is the unit of work scheduled and executed by the engine.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Priority     Priority `json:"priority"`
	Status       Status   `json:"status"`
	ParentTaskID string   `json:"parent_task_id,omitempty"`
	Subtasks     []string `json:"subtasks,omitempty"`     // Child task IDs (root only)
	Dependencies []string `json:"dependencies,omitempty"` // Task IDs that must complete first

	Iteration   int       `json:"iteration"` // Cycle in which the task was selected
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Comments []Comment      `json:"comments,omitempty"`
}

// NewID returns a short, collision-resistant task identifier.
func NewID() string {
	return uuid.New().String()[:8]
}

// ShortID returns the first 8 characters of the task ID for display
// and branch naming.
func (t *Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}

// MetaBool reads a boolean metadata flag; absent or mistyped keys are
// false.
func (t *Task) MetaBool(key string) bool {
	if t.Metadata == nil {
		return false
	}
	v, ok := t.Metadata[key].(bool)
	return ok && v
}

// MetaString reads a string metadata value; absent or mistyped keys are
// empty.
func (t *Task) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	v, _ := t.Metadata[key].(string)
	return v
}

// AddComment appends a timestamped comment to the task.
func (t *Task) AddComment(author, content string) {
	t.Comments = append(t.Comments, Comment{
		Author:    author,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Decomposition is the planner's structured output: a root task plus
// ordered subtasks with priorities and dependencies.
type Decomposition struct {
	MainTask            string              `json:"main_task"`
	Subtasks            []string            `json:"subtasks"`
	Priorities          map[string]string   `json:"priorities"`
	Dependencies        map[string][]string `json:"dependencies"`
	EstimatedComplexity string              `json:"estimated_complexity"`
}
