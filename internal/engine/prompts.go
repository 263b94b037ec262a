package engine

import (
	"fmt"
	"strings"
)

const decompositionPrompt = `You are a software planning assistant. Break the goal below into
concrete, independently executable subtasks for a coding agent working
in the repository described.

Respond with ONLY a JSON object of this exact shape:
{
  "main_task": "one-line restatement of the goal",
  "subtasks": ["first subtask", "second subtask"],
  "priorities": {"first subtask": "high", "second subtask": "medium"},
  "dependencies": {"second subtask": ["first subtask"]},
  "estimated_complexity": "low|medium|high"
}

Rules:
- Each subtask must be a single, self-contained change.
- Priorities are one of: critical, high, medium, low.
- Dependencies reference other subtasks by their exact text.
- Prefer few, meaningful subtasks over many trivial ones.

Repository: %s

Goal: %s`

const taskSolverSystemPrompt = `You are an autonomous software engineer. You will be given one task
to complete in an existing repository, along with context about prior
work. Make the change by emitting complete file contents.

For every file you create or modify, output a fenced code block tagged
with its path:

` + "```go:internal/example/file.go" + `
package example
` + "```" + `

Rules:
- Emit the COMPLETE new content of each file, never a fragment or diff.
- Only emit blocks for files you actually change.
- Keep changes minimal and focused on the task.
- After the code blocks, write one short paragraph summarizing what you did.`

// fixSyntaxPrompt asks for a corrected version of one file. The reply
// must be a single fenced block.
const fixSyntaxPrompt = `The file %s you produced has a syntax error:

%s

Here is the file content:

` + "```" + `
%s
` + "```" + `

Respond with ONLY one fenced code block containing the complete
corrected file. No explanation.`

const reviewSystemPrompt = `You are reviewing a pull request produced by an autonomous coding
agent. Point out real defects: logic errors, missed edge cases, broken
interfaces. Do not comment on style. Be brief. If the change looks
correct, say so in one sentence.`

// buildTaskPrompt assembles the deterministic six-part execution
// context for one task. Order is fixed so that identical inputs
// produce the identical prompt.
func buildTaskPrompt(in taskPromptInput) string {
	var b strings.Builder

	// 1. Goal
	fmt.Fprintf(&b, "# Overall goal\n%s\n\n", in.Goal)

	// 2. The task itself
	fmt.Fprintf(&b, "# Your task\n%s", in.Title)
	if in.Description != "" && in.Description != in.Title {
		fmt.Fprintf(&b, "\n%s", in.Description)
	}
	b.WriteString("\n\n")

	// 3. Completed dependency results, truncated
	if len(in.DepResults) > 0 {
		b.WriteString("# Completed prerequisite tasks\n")
		for _, dep := range in.DepResults {
			fmt.Fprintf(&b, "- %s: %s\n", dep.Title, truncate(dep.Result, 200))
		}
		b.WriteString("\n")
	}

	// 4. Remembered notes from earlier sessions
	if len(in.Notes) > 0 {
		b.WriteString("# Relevant notes from previous work\n")
		for _, n := range in.Notes {
			fmt.Fprintf(&b, "- %s: %s\n", n.Title, truncate(n.Content, 200))
		}
		b.WriteString("\n")
	}

	// 5. Repository and build context
	if in.RepoSummary != "" {
		fmt.Fprintf(&b, "# Repository\n%s\n", in.RepoSummary)
	}
	if in.Architecture != "" {
		if in.RepoSummary == "" {
			b.WriteString("# Repository\n")
		}
		fmt.Fprintf(&b, "Architecture: %s\n", in.Architecture)
	}
	if len(in.BuildHints) > 0 {
		fmt.Fprintf(&b, "Build/test commands: %s\n", strings.Join(in.BuildHints, ", "))
	}
	if in.RepoSummary != "" || in.Architecture != "" || len(in.BuildHints) > 0 {
		b.WriteString("\n")
	}

	// 6. Conversation relayed from the forge
	if len(in.Comments) > 0 {
		b.WriteString("# Feedback to address\n")
		for _, c := range in.Comments {
			fmt.Fprintf(&b, "%s wrote:\n%s\n\n", c.Author, c.Content)
		}
	}

	return b.String()
}

type depResult struct {
	Title  string
	Result string
}

type noteInput struct {
	Title   string
	Content string
}

type commentInput struct {
	Author  string
	Content string
}

type taskPromptInput struct {
	Goal         string
	Title        string
	Description  string
	DepResults   []depResult
	Notes        []noteInput
	RepoSummary  string
	Architecture string
	BuildHints   []string
	Comments     []commentInput
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
