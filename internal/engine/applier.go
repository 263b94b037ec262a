package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"yaver/internal/llm"
	"yaver/internal/logging"
	"yaver/internal/scan"
	"yaver/internal/task"
	"yaver/internal/vcs"
)

// ApplyResult reports what the applier did for one task.
type ApplyResult struct {
	Branch       string
	Files        []string
	Summary      string
	SyntaxErrors []string
	Findings     []scan.Finding
	WantsPR      bool
}

// Applier turns a generator response into worktree changes: it selects
// the branch, writes the file blocks, repairs syntax errors, runs the
// scanners and stages everything.
type Applier struct {
	vcs           vcs.VersionControl
	generator     llm.Generator
	syntax        *scan.SyntaxChecker
	scanners      *scan.Set
	workDir       string
	defaultBranch string
	repairTries   int
}

// NewApplier creates an applier.
func NewApplier(v vcs.VersionControl, generator llm.Generator, workDir, defaultBranch string, repairTries int) *Applier {
	return &Applier{
		vcs:           v,
		generator:     generator,
		syntax:        scan.NewSyntaxChecker(),
		scanners:      scan.NewSet(),
		workDir:       workDir,
		defaultBranch: defaultBranch,
		repairTries:   repairTries,
	}
}

// Apply processes a generator response for the task. Responses with no
// file blocks are valid: the task result is then purely informational.
// File and git failures degrade to task comments; the session goes on.
func (a *Applier) Apply(ctx context.Context, t *task.Task, goal, response string) (*ApplyResult, error) {
	wantsPR := wantsPullRequest(t.Title + " " + t.Description + " " + goal)

	branch, err := a.selectBranch(ctx, t, wantsPR)
	if err != nil {
		// Branch management never sinks the task; writes proceed on
		// whatever branch is checked out.
		logging.ApplierWarn("branch selection for task %s failed, staying put: %v", t.ID, err)
		t.AddComment("yaver", "Branch setup failed: "+err.Error())
		if active, aerr := a.vcs.ActiveBranch(ctx); aerr == nil {
			branch = active
		}
	}

	result := &ApplyResult{
		Branch:  branch,
		Summary: summaryText(response),
		WantsPR: wantsPR,
	}

	blocks := ExtractFileBlocks(a.workDir, response)
	if len(blocks) == 0 {
		logging.Applier("task %s produced no file changes", t.ID)
		return result, nil
	}

	written := make(map[string][]byte, len(blocks))
	for _, block := range blocks {
		content := []byte(block.Content)

		if res := a.syntax.Check(ctx, block.Path, content); !res.Valid {
			content, res = a.repair(ctx, block.Path, content, res)
			if !res.Valid {
				result.SyntaxErrors = append(result.SyntaxErrors,
					fmt.Sprintf("%s: %s", block.Path, res.Error))
			}
		}

		full := filepath.Join(a.workDir, block.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			logging.ApplierWarn("failed to create directory for %s: %v", block.Path, err)
			t.AddComment("yaver", fmt.Sprintf("Could not write %s: %v", block.Path, err))
			continue
		}
		if err := os.WriteFile(full, content, 0644); err != nil {
			logging.ApplierWarn("failed to write %s: %v", block.Path, err)
			t.AddComment("yaver", fmt.Sprintf("Could not write %s: %v", block.Path, err))
			continue
		}
		written[block.Path] = content
		result.Files = append(result.Files, block.Path)
	}

	if len(result.Files) == 0 {
		logging.ApplierWarn("task %s: no file block could be written", t.ID)
		return result, nil
	}

	findings, err := a.scanners.Run(ctx, written)
	if err != nil {
		logging.ApplierWarn("scanners failed for task %s: %v", t.ID, err)
	}
	result.Findings = findings

	if err := a.vcs.Add(ctx, result.Files...); err != nil {
		logging.ApplierWarn("failed to stage files for task %s: %v", t.ID, err)
		t.AddComment("yaver", "Could not stage files: "+err.Error())
	}

	t.AddComment("yaver", "Modified files: "+strings.Join(result.Files, ", "))
	logging.Applier("task %s applied %d files on %s (%d syntax errors, %d findings)",
		t.ID, len(result.Files), branch, len(result.SyntaxErrors), len(result.Findings))
	return result, nil
}

// selectBranch puts the worktree on the branch this task's changes
// belong on. Feedback tasks carrying a PR branch reuse it with a forced
// checkout. A feature branch is only cut when the task or the session's
// request asks for a pull request; otherwise writes stay on the branch
// already checked out.
func (a *Applier) selectBranch(ctx context.Context, t *task.Task, wantsPR bool) (string, error) {
	if t.MetaBool(task.MetaSkipBranchCreation) {
		prBranch := t.MetaString(task.MetaPRBranch)
		if prBranch == "" {
			return "", fmt.Errorf("task %s has skip_branch_creation but no pr_branch", t.ID)
		}
		if err := a.vcs.Fetch(ctx); err != nil {
			logging.ApplierWarn("fetch before PR branch checkout failed: %v", err)
		}
		if err := a.vcs.CheckoutForce(ctx, prBranch); err != nil {
			return "", err
		}
		if err := a.vcs.Pull(ctx, prBranch); err != nil {
			logging.ApplierWarn("pull of PR branch %s failed: %v", prBranch, err)
		}
		return prBranch, nil
	}

	if !wantsPR {
		return a.vcs.ActiveBranch(ctx)
	}

	name := TaskBranch(t)
	exists, err := a.vcs.BranchExists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		if err := a.vcs.Checkout(ctx, name); err != nil {
			return "", err
		}
		// Bring the reused branch up to date with the base.
		if err := a.vcs.Pull(ctx, a.defaultBranch); err != nil {
			logging.ApplierWarn("merge of %s into %s failed: %v", a.defaultBranch, name, err)
		}
		return name, nil
	}

	active, err := a.vcs.ActiveBranch(ctx)
	if err != nil {
		return "", err
	}
	if active != a.defaultBranch {
		if err := a.vcs.Checkout(ctx, a.defaultBranch); err != nil {
			return "", err
		}
	}
	return name, a.vcs.CreateBranch(ctx, name)
}

// repair asks the generator once per configured attempt for a corrected
// file. The last still-broken content is returned unchanged so the
// human can see what the model produced.
func (a *Applier) repair(ctx context.Context, path string, content []byte, res scan.SyntaxResult) ([]byte, scan.SyntaxResult) {
	for attempt := 0; attempt < a.repairTries; attempt++ {
		logging.Applier("repairing syntax in %s (attempt %d): %s", path, attempt+1, res.Error)

		prompt := fmt.Sprintf(fixSyntaxPrompt, path, res.Error, string(content))
		response, err := a.generator.Complete(ctx, prompt)
		if err != nil {
			logging.ApplierWarn("syntax repair call failed for %s: %v", path, err)
			return content, res
		}
		fixed, ok := ExtractFirstBlock(response)
		if !ok {
			fixed = response
		}

		fixedRes := a.syntax.Check(ctx, path, []byte(fixed))
		if fixedRes.Valid {
			return []byte(fixed), fixedRes
		}
		content, res = []byte(fixed), fixedRes
	}
	return content, res
}

// TaskBranch returns the branch name for a task's changes.
func TaskBranch(t *task.Task) string {
	return "yaver-task-" + t.ShortID()
}

// wantsPullRequest reports whether the task text asks for a PR, either
// spelled out or as the bare token.
func wantsPullRequest(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "pull request") {
		return true
	}
	for _, word := range splitWords(lower) {
		if strings.Trim(word, ".,;:!?()") == "pr" {
			return true
		}
	}
	return false
}

// summaryText returns the prose trailing the last code fence, or the
// whole response when there are no fences.
func summaryText(response string) string {
	idx := strings.LastIndex(response, "```")
	if idx < 0 {
		return strings.TrimSpace(response)
	}
	return strings.TrimSpace(response[idx+3:])
}
