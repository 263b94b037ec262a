// Package forge talks to the remote code host (Gitea or GitHub) and
// normalizes both APIs to one shape: PRs are addressed by number,
// users by login, comments by their numeric ID.
package forge

import (
	"context"
	"errors"
	"time"
)

// ErrAgentIdentityUnknown is returned when the forge cannot tell us who
// we are and no fallback username is configured. The monitor refuses to
// run without an identity; it would otherwise react to its own
// comments.
var ErrAgentIdentityUnknown = errors.New("agent identity unknown: forge user lookup failed and no agent_username configured")

// ErrNotFound is returned for lookups that resolve to nothing, such as
// FindPRByBranch on a branch with no open PR.
var ErrNotFound = errors.New("not found")

// User is a forge account.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Repository is a repo the agent can work on.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

// PullRequest is a normalized pull request. Number is the per-repo
// index used in URLs and refs/pull/N/head, never the global database
// ID some forges also expose.
type PullRequest struct {
	Number             int       `json:"number"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	State              string    `json:"state"` // open, closed
	HeadBranch         string    `json:"head_branch"`
	BaseBranch         string    `json:"base_branch"`
	URL                string    `json:"url"`
	RequestedReviewers []string  `json:"requested_reviewers,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Comment is an issue or PR conversation comment.
type Comment struct {
	ID        int64     `json:"id"`
	Author    User      `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is a normalized issue (not a PR).
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Author User   `json:"author"`
	State  string `json:"state"`
}

// Client is the normalized forge surface the engine depends on.
type Client interface {
	// Health probes the API with a short deadline so a down forge is
	// detected at startup rather than mid-session.
	Health(ctx context.Context) error

	// GetUser returns the authenticated account.
	GetUser(ctx context.Context) (*User, error)

	// ListRepositories lists repos visible to the token.
	ListRepositories(ctx context.Context) ([]Repository, error)

	// SetRepo selects the owner/repo all repo-scoped calls target.
	SetRepo(owner, repo string)

	GetPR(ctx context.Context, number int) (*PullRequest, error)
	FindPRByBranch(ctx context.Context, headBranch string) (*PullRequest, error)
	CreatePR(ctx context.Context, title, body, head, base string) (*PullRequest, error)

	ListComments(ctx context.Context, number int) ([]Comment, error)
	CreateComment(ctx context.Context, number int, body string) (*Comment, error)
	AddReaction(ctx context.Context, commentID int64, reaction string) error

	ListMentions(ctx context.Context, login string) ([]Issue, error)
	ListAssignedIssues(ctx context.Context, login string) ([]Issue, error)
	ListReviewRequests(ctx context.Context, login string) ([]PullRequest, error)
}
