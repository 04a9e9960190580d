package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

var (
	ErrForbidden    = errors.New("permission denied: write access to the repository is required to create issues")
	ErrRepoNotFound = errors.New("repository not found or not accessible")
	ErrInvalidURL   = errors.New("invalid GitHub repository URL")
)

var repoURLPattern = regexp.MustCompile(`github\.com[/:]([^/\s]+)/([^/\s#?]+)`)

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepoURL extracts owner and name from https, ssh or bare github.com URLs.
func ParseRepoURL(raw string) (Repo, error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	name := strings.TrimSuffix(m[2], ".git")
	if name == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return Repo{Owner: m[1], Name: name}, nil
}

// Issue is the subset of a GitHub issue the ledger cares about.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	State     string    `json:"state"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type IssueRequest struct {
	Title  string
	Body   string
	Labels []string
}

// Client wraps the GitHub REST API.
type Client struct {
	client *github.Client
}

// NewClient creates a GitHub client, authenticated when token is non-empty.
func NewClient(token string) *Client {
	var tc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(context.Background(), ts)
	}
	return &Client{client: github.NewClient(tc)}
}

// WithBaseURL points the client at another API root, such as GitHub Enterprise
// or a test server.
func (c *Client) WithBaseURL(base string) (*Client, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	c.client.BaseURL = u
	return c, nil
}

// CreateIssue opens an issue and returns its number and html_url.
func (c *Client) CreateIssue(ctx context.Context, repo Repo, req IssueRequest) (Issue, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		return Issue{}, errors.New("issue title and body are required")
	}
	labels := req.Labels
	if labels == nil {
		labels = []string{}
	}
	issue, _, err := c.client.Issues.Create(ctx, repo.Owner, repo.Name, &github.IssueRequest{
		Title:  github.String(req.Title),
		Body:   github.String(req.Body),
		Labels: &labels,
	})
	if err != nil {
		return Issue{}, classify(fmt.Errorf("failed to create issue in %s: %w", repo, err))
	}
	return convertIssue(issue), nil
}

// ListIssues returns the repository's issues in the given state, skipping
// pull requests.
func (c *Client) ListIssues(ctx context.Context, repo Repo, state string) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var all []Issue
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to list issues of %s: %w", repo, err))
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			all = append(all, convertIssue(is))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func convertIssue(is *github.Issue) Issue {
	out := Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		HTMLURL:   is.GetHTMLURL(),
		State:     is.GetState(),
		CreatedAt: is.GetCreatedAt().Time,
	}
	for _, l := range is.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

// classify maps GitHub status codes onto the tracker's sentinel errors.
func classify(err error) error {
	var ge *github.ErrorResponse
	if errors.As(err, &ge) && ge.Response != nil {
		switch ge.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrRepoNotFound, err)
		}
	}
	return err
}
