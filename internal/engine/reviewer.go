package engine

import (
	"context"
	"fmt"

	"yaver/internal/forge"
	"yaver/internal/llm"
	"yaver/internal/logging"
	"yaver/internal/vcs"
)

// maxReviewDiff caps how much diff is sent for review. Oversized diffs
// are truncated; a review of the first part beats no review.
const maxReviewDiff = 20000

// reviewHeader marks auto-review comments so humans (and the monitor's
// own-author filter) can tell them from feedback.
const reviewHeader = "## Yaver Auto-Review"

// Reviewer posts a model-written review on the engine's own pull
// requests, giving reviewers a summary and a first defect pass before
// they read the diff.
type Reviewer struct {
	forge     forge.Client
	generator llm.Generator
	vcs       vcs.VersionControl
}

// NewReviewer creates a reviewer.
func NewReviewer(f forge.Client, generator llm.Generator, v vcs.VersionControl) *Reviewer {
	return &Reviewer{forge: f, generator: generator, vcs: v}
}

// Review fetches the PR, diffs its head against its base locally and
// posts the model's review as a PR comment.
func (r *Reviewer) Review(ctx context.Context, number int) error {
	pr, err := r.forge.GetPR(ctx, number)
	if err != nil {
		return fmt.Errorf("failed to fetch PR #%d: %w", number, err)
	}

	if err := r.vcs.Fetch(ctx); err != nil {
		logging.MonitorWarn("fetch before review of PR #%d failed: %v", number, err)
	}
	if err := r.vcs.CheckoutForce(ctx, pr.HeadBranch); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", pr.HeadBranch, err)
	}
	diff, err := r.vcs.Diff(ctx, pr.BaseBranch)
	if err != nil {
		return fmt.Errorf("failed to diff against %s: %w", pr.BaseBranch, err)
	}
	if diff == "" {
		logging.Monitor("PR #%d has no diff against %s, skipping review", number, pr.BaseBranch)
		return nil
	}

	truncated := false
	if len(diff) > maxReviewDiff {
		diff = diff[:maxReviewDiff]
		truncated = true
	}

	prompt := fmt.Sprintf("PR title: %s\n\nPR description:\n%s\n\nDiff:\n%s", pr.Title, pr.Body, diff)
	review, err := r.generator.CompleteWithSystem(ctx, reviewSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("review generation failed: %w", err)
	}

	body := reviewHeader + "\n\n" + review
	if truncated {
		body += fmt.Sprintf("\n\n_(diff truncated to %d characters)_", maxReviewDiff)
	}
	if _, err := r.forge.CreateComment(ctx, number, body); err != nil {
		return fmt.Errorf("failed to post review: %w", err)
	}
	logging.Monitor("posted auto-review on PR #%d (%d chars)", number, len(review))
	return nil
}
