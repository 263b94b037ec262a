package engine

import (
	"context"

	"yaver/internal/build"
	"yaver/internal/llm"
	"yaver/internal/logging"
	"yaver/internal/retrieval"
	"yaver/internal/task"
)

// Executor runs one task against the generator. It owns context
// assembly: the prompt is built from the session, the graph and the
// memory store in a fixed order so the same inputs always produce the
// same prompt.
type Executor struct {
	generator    llm.Generator
	retriever    retrieval.ContextRetriever
	topK         int
	repoSummary  string
	architecture string
	buildSystems []build.System
}

// NewExecutor creates an executor. retriever may be nil when memory is
// disabled.
func NewExecutor(generator llm.Generator, retriever retrieval.ContextRetriever, topK int, workDir string) *Executor {
	e := &Executor{
		generator: generator,
		retriever: retriever,
		topK:      topK,
	}
	e.buildSystems = build.Detect(workDir)
	e.architecture = build.Architecture(workDir, e.buildSystems)
	if stats, err := build.CollectStats(workDir); err == nil {
		e.repoSummary = stats.Summary()
	}
	return e
}

// Execute builds the task prompt and returns the generator's raw
// response. The applier interprets it.
func (e *Executor) Execute(ctx context.Context, state *State, t *task.Task) (string, error) {
	in := taskPromptInput{
		Goal:         state.Goal,
		Title:        t.Title,
		Description:  t.Description,
		RepoSummary:  e.repoSummary,
		Architecture: e.architecture,
	}

	for _, depID := range t.Dependencies {
		if dep := state.Graph().Get(depID); dep != nil && dep.Status == task.StatusCompleted {
			in.DepResults = append(in.DepResults, depResult{Title: dep.Title, Result: dep.Result})
		}
	}

	if e.retriever != nil {
		notes, err := e.retriever.Retrieve(ctx, t.Title+" "+t.Description, e.topK)
		if err != nil {
			logging.ExecutorDebug("memory retrieval failed for task %s: %v", t.ID, err)
		}
		for _, n := range notes {
			in.Notes = append(in.Notes, noteInput{Title: n.Title, Content: n.Content})
		}
	}

	in.BuildHints = build.Hints(guessTargetFile(t), e.buildSystems)

	// Comments the engine itself posted are context the model already
	// produced; only relay what others said.
	for _, c := range t.Comments {
		if c.Author == state.Agent || c.Author == "yaver" {
			continue
		}
		in.Comments = append(in.Comments, commentInput{Author: c.Author, Content: c.Content})
	}

	prompt := buildTaskPrompt(in)
	logging.Executor("executing task %s: %s (prompt %d chars)", t.ID, t.Title, len(prompt))

	response, err := e.generator.CompleteWithSystem(ctx, taskSolverSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	logging.ExecutorDebug("task %s response: %d chars", t.ID, len(response))
	return response, nil
}

// guessTargetFile extracts a file-looking token from the task text so
// build hints can match the right toolchain. Best effort only.
func guessTargetFile(t *task.Task) string {
	for _, word := range splitWords(t.Title + " " + t.Description) {
		if looksLikeSourceFile(word) {
			return word
		}
	}
	return ""
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		sep := r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '`'
		if sep {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func looksLikeSourceFile(word string) bool {
	for _, ext := range []string{".go", ".py", ".js", ".ts", ".tsx", ".rs", ".java", ".rb"} {
		if len(word) > len(ext) && word[len(word)-len(ext):] == ext {
			return true
		}
	}
	return false
}
