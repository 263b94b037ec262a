package engine

import (
	"sort"

	"yaver/internal/task"
)

// NextTask selects the task to run this iteration: the highest-priority
// PENDING task whose dependencies are all COMPLETED. Creation order
// breaks priority ties, so a plan's earlier subtasks run first. The
// root is never selected; it completes when its children do.
func NextTask(g *task.Graph) *task.Task {
	root := g.Root()

	var ready []*task.Task
	for _, t := range g.All() {
		if root != nil && t.ID == root.ID {
			continue
		}
		if t.Status != task.StatusPending {
			continue
		}
		if !g.DepsCompleted(t) {
			continue
		}
		ready = append(ready, t)
	}
	if len(ready) == 0 {
		return nil
	}

	// All() is creation-ordered and the sort is stable.
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority.Rank() < ready[j].Priority.Rank()
	})
	return ready[0]
}

// PendingBlockedByFailure returns the PENDING tasks that can never run
// because a dependency failed. The driver marks these BLOCKED when the
// session ends rather than eagerly, in case a later replan revives the
// dependency.
func PendingBlockedByFailure(g *task.Graph) []*task.Task {
	var blocked []*task.Task
	for _, t := range g.All() {
		if t.Status == task.StatusPending && g.HasFailedDep(t) {
			blocked = append(blocked, t)
		}
	}
	return blocked
}
