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

// GiteaClient implements Client for the Gitea API (/api/v1).
type GiteaClient struct {
	baseURL       string
	token         string
	owner         string
	repo          string
	httpClient    *http.Client
	healthTimeout time.Duration
}

// GiteaConfig holds configuration for the Gitea client.
type GiteaConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	HealthTimeout time.Duration
}

// NewGiteaClient creates a Gitea forge client.
func NewGiteaClient(cfg GiteaConfig) *GiteaClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 3 * time.Second
	}
	return &GiteaClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		token:         cfg.Token,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		healthTimeout: cfg.HealthTimeout,
	}
}

// SetRepo selects the repository for repo-scoped calls.
func (c *GiteaClient) SetRepo(owner, repo string) {
	c.owner = owner
	c.repo = repo
}

// giteaUser mirrors the Gitea user shape; login and username are both
// populated by the API, older versions only the latter.
type giteaUser struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	Username string `json:"username"`
}

func (u giteaUser) normalize() User {
	login := u.Login
	if login == "" {
		login = u.Username
	}
	return User{ID: u.ID, Login: login}
}

type giteaRepo struct {
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	CloneURL      string    `json:"clone_url"`
	DefaultBranch string    `json:"default_branch"`
	Owner         giteaUser `json:"owner"`
}

type giteaBranchRef struct {
	Ref string `json:"ref"`
}

type giteaPR struct {
	Number             int            `json:"number"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	State              string         `json:"state"`
	HTMLURL            string         `json:"html_url"`
	Head               giteaBranchRef `json:"head"`
	Base               giteaBranchRef `json:"base"`
	RequestedReviewers []giteaUser    `json:"requested_reviewers"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (p giteaPR) normalize() PullRequest {
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
		pr.RequestedReviewers = append(pr.RequestedReviewers, r.normalize().Login)
	}
	return pr
}

type giteaComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      giteaUser `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

func (c giteaComment) normalize() Comment {
	return Comment{ID: c.ID, Body: c.Body, Author: c.User.normalize(), CreatedAt: c.CreatedAt}
}

type giteaIssue struct {
	Number int       `json:"number"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	State  string    `json:"state"`
	User   giteaUser `json:"user"`
	// Non-nil when the "issue" is actually a PR; those are filtered out.
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (i giteaIssue) normalize() Issue {
	return Issue{Number: i.Number, Title: i.Title, Body: i.Body, State: i.State, Author: i.User.normalize()}
}

func (c *GiteaClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
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
	req.Header.Set("Authorization", "token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gitea request failed: %w", err)
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
		logging.ForgeWarn("gitea %s %s -> %d", method, path, resp.StatusCode)
		return fmt.Errorf("gitea API returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *GiteaClient) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}

// Health probes /version with a short deadline.
func (c *GiteaClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	return c.do(ctx, "GET", "/version", nil, nil, &struct{}{})
}

// GetUser returns the authenticated account.
func (c *GiteaClient) GetUser(ctx context.Context) (*User, error) {
	var gu giteaUser
	if err := c.do(ctx, "GET", "/user", nil, nil, &gu); err != nil {
		return nil, err
	}
	u := gu.normalize()
	return &u, nil
}

// ListRepositories lists repos visible to the token.
func (c *GiteaClient) ListRepositories(ctx context.Context) ([]Repository, error) {
	var raw []giteaRepo
	if err := c.do(ctx, "GET", "/user/repos", nil, nil, &raw); err != nil {
		return nil, err
	}
	repos := make([]Repository, len(raw))
	for i, r := range raw {
		repos[i] = Repository{
			Owner:         r.Owner.normalize().Login,
			Name:          r.Name,
			FullName:      r.FullName,
			CloneURL:      r.CloneURL,
			DefaultBranch: r.DefaultBranch,
		}
	}
	return repos, nil
}

// GetPR fetches a pull request by number.
func (c *GiteaClient) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	var raw giteaPR
	if err := c.do(ctx, "GET", c.repoPath(fmt.Sprintf("/pulls/%d", number)), nil, nil, &raw); err != nil {
		return nil, err
	}
	pr := raw.normalize()
	return &pr, nil
}

// FindPRByBranch returns the open PR whose head is the given branch,
// or ErrNotFound.
func (c *GiteaClient) FindPRByBranch(ctx context.Context, headBranch string) (*PullRequest, error) {
	q := url.Values{"state": {"open"}}
	var raw []giteaPR
	if err := c.do(ctx, "GET", c.repoPath("/pulls"), q, nil, &raw); err != nil {
		return nil, err
	}
	for _, p := range raw {
		if p.Head.Ref == headBranch {
			pr := p.normalize()
			return &pr, nil
		}
	}
	return nil, fmt.Errorf("no open PR for branch %s: %w", headBranch, ErrNotFound)
}

// CreatePR opens a pull request.
func (c *GiteaClient) CreatePR(ctx context.Context, title, body, head, base string) (*PullRequest, error) {
	payload := map[string]string{"title": title, "body": body, "head": head, "base": base}
	var raw giteaPR
	if err := c.do(ctx, "POST", c.repoPath("/pulls"), nil, payload, &raw); err != nil {
		return nil, err
	}
	pr := raw.normalize()
	return &pr, nil
}

// ListComments lists conversation comments on an issue or PR.
func (c *GiteaClient) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var raw []giteaComment
	if err := c.do(ctx, "GET", c.repoPath(fmt.Sprintf("/issues/%d/comments", number)), nil, nil, &raw); err != nil {
		return nil, err
	}
	comments := make([]Comment, len(raw))
	for i, cm := range raw {
		comments[i] = cm.normalize()
	}
	return comments, nil
}

// CreateComment posts a conversation comment.
func (c *GiteaClient) CreateComment(ctx context.Context, number int, body string) (*Comment, error) {
	payload := map[string]string{"body": body}
	var raw giteaComment
	if err := c.do(ctx, "POST", c.repoPath(fmt.Sprintf("/issues/%d/comments", number)), nil, payload, &raw); err != nil {
		return nil, err
	}
	cm := raw.normalize()
	return &cm, nil
}

// AddReaction adds an emoji reaction (for example "eyes") to a comment.
func (c *GiteaClient) AddReaction(ctx context.Context, commentID int64, reaction string) error {
	payload := map[string]string{"content": reaction}
	return c.do(ctx, "POST", c.repoPath(fmt.Sprintf("/issues/comments/%d/reactions", commentID)), nil, payload, nil)
}

// ListMentions lists open issues mentioning the login.
func (c *GiteaClient) ListMentions(ctx context.Context, login string) ([]Issue, error) {
	q := url.Values{"state": {"open"}, "mentioned_by": {login}}
	return c.listIssues(ctx, q)
}

// ListAssignedIssues lists open issues assigned to the login.
func (c *GiteaClient) ListAssignedIssues(ctx context.Context, login string) ([]Issue, error) {
	q := url.Values{"state": {"open"}, "assigned_by": {login}}
	return c.listIssues(ctx, q)
}

func (c *GiteaClient) listIssues(ctx context.Context, q url.Values) ([]Issue, error) {
	var raw []giteaIssue
	if err := c.do(ctx, "GET", c.repoPath("/issues"), q, nil, &raw); err != nil {
		return nil, err
	}
	var issues []Issue
	for _, is := range raw {
		if is.PullRequest != nil {
			continue
		}
		issues = append(issues, is.normalize())
	}
	return issues, nil
}

// ListReviewRequests lists open PRs where the login is a requested
// reviewer.
func (c *GiteaClient) ListReviewRequests(ctx context.Context, login string) ([]PullRequest, error) {
	q := url.Values{"state": {"open"}}
	var raw []giteaPR
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
