package task

import (
	"fmt"
	"time"
)

// Graph holds a session's tasks in creation order. Creation order is
// the stable tie-breaker for scheduling, so the backing slice is
// append-only; tasks are never removed, only transitioned.
type Graph struct {
	tasks []*Task
	byID  map[string]*Task
}

// NewGraph creates an empty task graph.
func NewGraph() *Graph {
	return &Graph{byID: make(map[string]*Task)}
}

// Add appends a task in creation order. Duplicate IDs are rejected.
func (g *Graph) Add(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task must have an id")
	}
	if _, exists := g.byID[t.ID]; exists {
		return fmt.Errorf("task %s already in graph", t.ID)
	}
	g.tasks = append(g.tasks, t)
	g.byID[t.ID] = t
	return nil
}

// Get returns the task with the given ID, or nil.
func (g *Graph) Get(id string) *Task {
	return g.byID[id]
}

// All returns the tasks in creation order. The slice is shared; callers
// must not reorder it.
func (g *Graph) All() []*Task {
	return g.tasks
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Root returns the single task without a parent, or nil if the graph is
// empty.
func (g *Graph) Root() *Task {
	for _, t := range g.tasks {
		if t.ParentTaskID == "" {
			return t
		}
	}
	return nil
}

// CountByStatus returns how many tasks currently carry the status.
func (g *Graph) CountByStatus(s Status) int {
	n := 0
	for _, t := range g.tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

// DepsCompleted reports whether every dependency of the task resolves
// to a COMPLETED task in this graph.
func (g *Graph) DepsCompleted(t *Task) bool {
	for _, depID := range t.Dependencies {
		dep := g.byID[depID]
		if dep == nil || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// HasFailedDep reports whether any dependency of the task is FAILED.
func (g *Graph) HasFailedDep(t *Task) bool {
	for _, depID := range t.Dependencies {
		if dep := g.byID[depID]; dep != nil && dep.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Transition moves a task to the given status, enforcing the monotonic
// lifecycle pending -> in_progress -> {completed, failed}. A violation
// is a programmer error and is returned rather than applied.
func (g *Graph) Transition(id string, to Status) error {
	t := g.byID[id]
	if t == nil {
		return fmt.Errorf("unknown task %s", id)
	}
	if !validTransition(t.Status, to) {
		return fmt.Errorf("invalid status transition for task %s: %s -> %s", id, t.Status, to)
	}
	t.Status = to
	if to == StatusCompleted || to == StatusFailed {
		t.CompletedAt = time.Now()
	}
	return nil
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusBlocked
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// RootComplete reports whether every non-root task completed
// successfully. A failed or blocked subtask keeps the root open; the
// goal was not met.
func (g *Graph) RootComplete() bool {
	root := g.Root()
	if root == nil {
		return false
	}
	for _, t := range g.tasks {
		if t.ID == root.ID {
			continue
		}
		if t.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ValidateDAG walks the dependency edges and returns an error if they
// contain a cycle. The scheduler relies on dependencies forming a DAG.
func (g *Graph) ValidateDAG() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("dependency cycle involving task %s", id)
		case black:
			return nil
		}
		color[id] = grey
		if t := g.byID[id]; t != nil {
			for _, dep := range t.Dependencies {
				if _, ok := g.byID[dep]; !ok {
					continue // unresolved names were dropped at plan time
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range g.tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}
