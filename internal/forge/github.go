package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yaver/internal/logging"
)

// GitHubClient implements Client for the GitHub REST API.
type GitHubClient struct {
	baseURL       string
	token         string
	owner         string
	repo          string
	httpClient    *http.Client
	healthTimeout time.Duration
}

// GitHubConfig holds configuration for the GitHub client.
type GitHubConfig struct {
	BaseURL       string // Empty for github.com; set for GHE installs
	Token         string
	Timeout       time.Duration
	HealthTimeout time.Duration
}

// NewGitHubClient creates a GitHub forge client.
func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 3 * time.Second
	}
	return &GitHubClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		healthTimeout: cfg.HealthTimeout,
	}
}

// SetRepo selects the repository for repo-scoped calls.
func (c *GitHubClient) SetRepo(owner, repo string) {
	c.owner = owner
	c.repo = repo
}

type ghUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type ghRepo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Owner         ghUser `json:"owner"`
}

type ghBranchRef struct {
	Ref string `json:"ref"`
}

type ghPR struct {
	Number             int         `json:"number"`
	Title              string      `json:"title"`
	Body               string      `json:"body"`
	State              string      `json:"state"`
	HTMLURL            string      `json:"html_url"`
	Head               ghBranchRef `json:"head"`
	Base               ghBranchRef `json:"base"`
	RequestedReviewers []ghUser    `json:"requested_reviewers"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func (p ghPR) normalize() PullRequest {
	pr := PullRequest{
		Number:     p.Number,
		Title:      p.Title,
		Body:       p.Body,
		State:      p.State,
		HeadBranch: p.Head.Ref,
		BaseBranch: p.Base.Ref,
		URL:        p.HTMLURL,
		UpdatedAt:  p.UpdatedAt,
	}
	for _, r := range p.RequestedReviewers {
		pr.RequestedReviewers = append(pr.RequestedReviewers, r.Login)
	}
	return pr
}

type ghComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      ghUser    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

type ghIssue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	User        ghUser    `json:"user"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (c *GitHubClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.ForgeWarn("github %s %s -> %d", method, path, resp.StatusCode)
		return fmt.Errorf("github API returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *GitHubClient) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}

// Health probes the API root with a short deadline.
func (c *GitHubClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	return c.do(ctx, "GET", "/rate_limit", nil, nil, &struct{}{})
}

// GetUser returns the authenticated account.
func (c *GitHubClient) GetUser(ctx context.Context) (*User, error) {
	var gu ghUser
	if err := c.do(ctx, "GET", "/user", nil, nil, &gu); err != nil {
		return nil, err
	}
	return &User{ID: gu.ID, Login: gu.Login}, nil
}

// ListRepositories lists repos visible to the token.
func (c *GitHubClient) ListRepositories(ctx context.Context) ([]Repository, error) {
	var raw []ghRepo
	if err := c.do(ctx, "GET", "/user/repos", nil, nil, &raw); err != nil {
		return nil, err
	}
	repos := make([]Repository, len(raw))
	for i, r := range raw {
		repos[i] = Repository{
			Owner:         r.Owner.Login,
			Name:          r.Name,
			FullName:      r.FullName,
			CloneURL:      r.CloneURL,
			DefaultBranch: r.DefaultBranch,
		}
	}
	return repos, nil
}

// GetPR fetches a pull request by number.
func (c *GitHubClient) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	var raw ghPR
	if err := c.do(ctx, "GET", c.repoPath(fmt.Sprintf("/pulls/%d", number)), nil, nil, &raw); err != nil {
		return nil, err
	}
	pr := raw.normalize()
	return &pr, nil
}

// FindPRByBranch returns the open PR whose head is the given branch.
// GitHub filters server-side with head=owner:branch.
func (c *GitHubClient) FindPRByBranch(ctx context.Context, headBranch string) (*PullRequest, error) {
	q := url.Values{"state": {"open"}, "head": {c.owner + ":" + headBranch}}
	var raw []ghPR
	if err := c.do(ctx, "GET", c.repoPath("/pulls"), q, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no open PR for branch %s: %w", headBranch, ErrNotFound)
	}
	pr := raw[0].normalize()
	return &pr, nil
}

// CreatePR opens a pull request.
func (c *GitHubClient) CreatePR(ctx context.Context, title, body, head, base string) (*PullRequest, error) {
	payload := map[string]string{"title": title, "body": body, "head": head, "base": base}
	var raw ghPR
	if err := c.do(ctx, "POST", c.repoPath("/pulls"), nil, payload, &raw); err != nil {
		return nil, err
	}
	pr := raw.normalize()
	return &pr, nil
}

// ListComments lists conversation comments on an issue or PR.
func (c *GitHubClient) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var raw []ghComment
	if err := c.do(ctx, "GET", c.repoPath(fmt.Sprintf("/issues/%d/comments", number)), nil, nil, &raw); err != nil {
		return nil, err
	}
	comments := make([]Comment, len(raw))
	for i, cm := range raw {
		comments[i] = Comment{ID: cm.ID, Body: cm.Body, Author: User{ID: cm.User.ID, Login: cm.User.Login}, CreatedAt: cm.CreatedAt}
	}
	return comments, nil
}

// CreateComment posts a conversation comment.
func (c *GitHubClient) CreateComment(ctx context.Context, number int, body string) (*Comment, error) {
	payload := map[string]string{"body": body}
	var raw ghComment
	if err := c.do(ctx, "POST", c.repoPath(fmt.Sprintf("/issues/%d/comments", number)), nil, payload, &raw); err != nil {
		return nil, err
	}
	return &Comment{ID: raw.ID, Body: raw.Body, Author: User{ID: raw.User.ID, Login: raw.User.Login}, CreatedAt: raw.CreatedAt}, nil
}

// AddReaction adds an emoji reaction (for example "eyes") to a comment.
func (c *GitHubClient) AddReaction(ctx context.Context, commentID int64, reaction string) error {
	payload := map[string]string{"content": reaction}
	return c.do(ctx, "POST", c.repoPath(fmt.Sprintf("/issues/comments/%d/reactions", commentID)), nil, payload, nil)
}

// ListMentions lists open issues mentioning the login.
func (c *GitHubClient) ListMentions(ctx context.Context, login string) ([]Issue, error) {
	q := url.Values{"state": {"open"}, "mentioned": {login}}
	return c.listIssues(ctx, q)
}

// ListAssignedIssues lists open issues assigned to the login.
func (c *GitHubClient) ListAssignedIssues(ctx context.Context, login string) ([]Issue, error) {
	q := url.Values{"state": {"open"}, "assignee": {login}}
	return c.listIssues(ctx, q)
}

func (c *GitHubClient) listIssues(ctx context.Context, q url.Values) ([]Issue, error) {
	var raw []ghIssue
	if err := c.do(ctx, "GET", c.repoPath("/issues"), q, nil, &raw); err != nil {
		return nil, err
	}
	var issues []Issue
	for _, is := range raw {
		if is.PullRequest != nil {
			continue
		}
		issues = append(issues, Issue{
			Number: is.Number,
			Title:  is.Title,
			Body:   is.Body,
			State:  is.State,
			Author: User{ID: is.User.ID, Login: is.User.Login},
		})
	}
	return issues, nil
}

// ListReviewRequests lists open PRs where the login is a requested
// reviewer.
func (c *GitHubClient) ListReviewRequests(ctx context.Context, login string) ([]PullRequest, error) {
	q := url.Values{"state": {"open"}}
	var raw []ghPR
	if err := c.do(ctx, "GET", c.repoPath("/pulls"), q, nil, &raw); err != nil {
		return nil, err
	}
	var prs []PullRequest
	for _, p := range raw {
		pr := p.normalize()
		for _, r := range pr.RequestedReviewers {
			if r == login {
				prs = append(prs, pr)
				break
			}
		}
	}
	return prs, nil
}
