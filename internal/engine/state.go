// Package engine contains the task orchestration loop: planning a goal
// into a task graph, scheduling and executing tasks, applying the
// generated changes to the worktree, and reacting to PR feedback.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yaver/internal/logging"
	"yaver/internal/task"
)

// ErrNoTasks is returned when a session starts with an empty goal or
// the planner produced nothing schedulable.
var ErrNoTasks = errors.New("no tasks to execute")

// ErrBudgetExhausted is returned when the iteration budget ran out with
// work still pending.
var ErrBudgetExhausted = errors.New("iteration budget exhausted with tasks still pending")

// ActivePR tracks one pull request the monitor watches. Processed
// comment IDs persist with the session so a restart does not re-answer
// old feedback.
type ActivePR struct {
	Number              int            `json:"number"`
	Branch              string         `json:"branch"`
	ProcessedCommentIDs map[int64]bool `json:"processed_comment_ids"`
}

// LogEntry records one engine event for the session journal.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // plan, select, execute, apply, feedback, conflict, commit
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
}

// State is everything a session needs to resume: the goal, the task
// graph, watched PRs and the event journal.
type State struct {
	SessionID string    `json:"session_id"`
	Goal      string    `json:"goal"`
	Agent     string    `json:"agent"` // Forge login the engine operates as
	StartedAt time.Time `json:"started_at"`
	Iteration int       `json:"iteration"`

	Tasks     []*task.Task `json:"tasks"`
	ActivePRs []*ActivePR  `json:"active_prs,omitempty"`
	Journal   []LogEntry   `json:"journal,omitempty"`

	// StagedFiles are the paths this session applied but has not yet
	// committed; the bundle commit at session end covers exactly these.
	StagedFiles []string `json:"staged_files,omitempty"`

	graph *task.Graph
}

// NewState creates a fresh session state.
func NewState(sessionID, goal, agent string) *State {
	return &State{
		SessionID: sessionID,
		Goal:      goal,
		Agent:     agent,
		StartedAt: time.Now(),
		graph:     task.NewGraph(),
	}
}

// Graph returns the live task graph.
func (s *State) Graph() *task.Graph {
	return s.graph
}

// AddTask adds a task to both the graph and the serialized list.
func (s *State) AddTask(t *task.Task) error {
	if err := s.graph.Add(t); err != nil {
		return err
	}
	s.Tasks = append(s.Tasks, t)
	return nil
}

// Log appends a journal entry.
func (s *State) Log(kind, taskID, format string, args ...any) {
	s.Journal = append(s.Journal, LogEntry{
		Timestamp: time.Now(),
		Kind:      kind,
		TaskID:    taskID,
		Message:   fmt.Sprintf(format, args...),
	})
}

// PR returns the tracked ActivePR for a number, creating it if new.
func (s *State) PR(number int, branch string) *ActivePR {
	for _, pr := range s.ActivePRs {
		if pr.Number == number {
			return pr
		}
	}
	pr := &ActivePR{Number: number, Branch: branch, ProcessedCommentIDs: make(map[int64]bool)}
	s.ActivePRs = append(s.ActivePRs, pr)
	return pr
}

// Save writes the session to dir as <session_id>.json.
func (s *State) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	path := filepath.Join(dir, s.SessionID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	logging.Get(logging.CategorySession).Debug("saved session %s (%d tasks, %d journal entries)",
		s.SessionID, len(s.Tasks), len(s.Journal))
	return nil
}

// LoadState reads a session back from dir and rebuilds the graph.
func LoadState(dir, sessionID string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, sessionID+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	s.graph = task.NewGraph()
	for _, t := range s.Tasks {
		if err := s.graph.Add(t); err != nil {
			return nil, fmt.Errorf("corrupt session %s: %w", sessionID, err)
		}
	}
	for _, pr := range s.ActivePRs {
		if pr.ProcessedCommentIDs == nil {
			pr.ProcessedCommentIDs = make(map[int64]bool)
		}
	}
	return &s, nil
}
