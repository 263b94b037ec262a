package engine

import (
	"context"
	"fmt"
	"strings"

	"yaver/internal/config"
	"yaver/internal/llm"
	"yaver/internal/logging"
	"yaver/internal/task"
)

// Planner turns a goal into a task graph via one structured generator
// call. Model output is messy in practice, so a salvage layer accepts
// several near-miss shapes before falling back to a single task.
type Planner struct {
	generator llm.Generator
	cfg       *config.Config
}

// NewPlanner creates a planner.
func NewPlanner(generator llm.Generator, cfg *config.Config) *Planner {
	return &Planner{generator: generator, cfg: cfg}
}

// Plan produces a decomposition for the goal. A planner failure is
// never fatal: the fallback is a decomposition with the goal as its
// single subtask.
func (p *Planner) Plan(ctx context.Context, goal, repoSummary string) *task.Decomposition {
	prompt := fmt.Sprintf(decompositionPrompt, repoSummary, goal)

	obj, err := p.generator.CompleteStructured(ctx, prompt)
	if err != nil {
		logging.PlannerWarn("decomposition call failed, falling back to single task: %v", err)
		return fallbackDecomposition(goal)
	}

	dec := salvageDecomposition(obj, goal)
	if len(dec.Subtasks) == 0 {
		logging.PlannerWarn("decomposition had no usable subtasks, falling back to single task")
		return fallbackDecomposition(goal)
	}
	logging.Planner("planned %d subtasks for goal (complexity=%s)", len(dec.Subtasks), dec.EstimatedComplexity)
	return dec
}

// salvageDecomposition accepts the canonical shape plus the shapes
// models actually produce: a "tasks" list of objects, a single object
// with a title, or subtask entries that are objects instead of strings.
func salvageDecomposition(obj map[string]any, goal string) *task.Decomposition {
	dec := &task.Decomposition{
		MainTask:     stringValue(obj["main_task"]),
		Priorities:   stringMap(obj["priorities"]),
		Dependencies: stringListMap(obj["dependencies"]),
	}
	dec.EstimatedComplexity = stringValue(obj["estimated_complexity"])
	if dec.MainTask == "" {
		dec.MainTask = goal
	}

	dec.Subtasks = stringList(obj["subtasks"])

	// Some models answer {"tasks": [{"title": ..., "priority": ...}]}.
	if len(dec.Subtasks) == 0 {
		if rawTasks, ok := obj["tasks"].([]any); ok {
			for _, rt := range rawTasks {
				title, prio := titleAndPriority(rt)
				if title == "" {
					continue
				}
				dec.Subtasks = append(dec.Subtasks, title)
				if prio != "" {
					dec.Priorities[title] = prio
				}
			}
		}
	}

	// Or a single {"title": ...} object.
	if len(dec.Subtasks) == 0 {
		if title := stringValue(obj["title"]); title != "" {
			dec.Subtasks = []string{title}
		}
	}

	return dec
}

func fallbackDecomposition(goal string) *task.Decomposition {
	return &task.Decomposition{
		MainTask:            goal,
		Subtasks:            []string{goal},
		Priorities:          map[string]string{},
		Dependencies:        map[string][]string{},
		EstimatedComplexity: "unknown",
	}
}

// Materialize converts a decomposition into tasks in the session state:
// one root in progress plus pending subtasks. Subtasks beyond the
// configured cap are dropped from the end. Dependency names that match
// no subtask are dropped rather than failing the plan.
func (p *Planner) Materialize(state *State, dec *task.Decomposition) (*task.Task, error) {
	subtasks := dec.Subtasks
	if limit := p.cfg.MaxSubtasks(); len(subtasks) > limit {
		logging.PlannerWarn("capping plan at %d of %d subtasks", limit, len(subtasks))
		subtasks = subtasks[:limit]
	}

	root := &task.Task{
		ID:          task.NewID(),
		Title:       dec.MainTask,
		Description: state.Goal,
		Priority:    task.PriorityHigh,
		Status:      task.StatusInProgress,
	}
	if err := state.AddTask(root); err != nil {
		return nil, err
	}

	idByTitle := make(map[string]string, len(subtasks))
	for _, title := range subtasks {
		st := &task.Task{
			ID:           task.NewID(),
			Title:        title,
			Description:  title,
			Priority:     task.ParsePriority(dec.Priorities[title]),
			Status:       task.StatusPending,
			ParentTaskID: root.ID,
		}
		if err := state.AddTask(st); err != nil {
			return nil, err
		}
		root.Subtasks = append(root.Subtasks, st.ID)
		idByTitle[normalizeTitle(title)] = st.ID
	}

	for title, deps := range dec.Dependencies {
		t := state.Graph().Get(idByTitle[normalizeTitle(title)])
		if t == nil {
			continue
		}
		for _, depTitle := range deps {
			if depID, ok := idByTitle[normalizeTitle(depTitle)]; ok && depID != t.ID {
				t.Dependencies = append(t.Dependencies, depID)
			}
		}
	}

	if err := state.Graph().ValidateDAG(); err != nil {
		// A cyclic plan is unusable; strip all dependencies and keep
		// the tasks runnable in priority order instead.
		logging.PlannerWarn("plan has a dependency cycle, dropping dependencies: %v", err)
		for _, t := range state.Graph().All() {
			t.Dependencies = nil
		}
	}

	state.Log("plan", root.ID, "planned %d subtasks", len(root.Subtasks))
	return root, nil
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func titleAndPriority(v any) (string, string) {
	switch t := v.(type) {
	case string:
		return t, ""
	case map[string]any:
		title := stringValue(t["title"])
		if title == "" {
			title = stringValue(t["task"])
		}
		if title == "" {
			title = stringValue(t["description"])
		}
		return title, stringValue(t["priority"])
	}
	return "", ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if title, _ := titleAndPriority(item); title != "" {
			out = append(out, title)
		}
	}
	return out
}

func stringMap(v any) map[string]string {
	out := make(map[string]string)
	if raw, ok := v.(map[string]any); ok {
		for k, val := range raw {
			if s := stringValue(val); s != "" {
				out[k] = s
			}
		}
	}
	return out
}

func stringListMap(v any) map[string][]string {
	out := make(map[string][]string)
	if raw, ok := v.(map[string]any); ok {
		for k, val := range raw {
			out[k] = stringList(val)
		}
	}
	return out
}
