package bountylinesdk

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
)

// Client is a minimal Bountyline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Organization mirrors the API organization record. Amounts are decimal wei.
type Organization struct {
	Address          string `json:"address"`
	Owner            string `json:"owner"`
	RepoURL          string `json:"repo_url"`
	TotalStaked      string `json:"total_staked"`
	AvailableRewards string `json:"available_rewards"`
	AICredits        string `json:"ai_credits"`
	IsActive         bool   `json:"is_active"`
}

// Issue mirrors the API issue record.
type Issue struct {
	ID             uint64 `json:"id"`
	Org            string `json:"org"`
	GithubIssueURL string `json:"github_issue_url"`
	Description    string `json:"description"`
	Bounty         string `json:"bounty"`
	Difficulty     string `json:"difficulty"`
	Status         string `json:"status"`
	AssignedTo     string `json:"assigned_to,omitempty"`
	Stake          string `json:"stake"`
	Deadline       int64  `json:"deadline"`
}

type Payout struct {
	ID        string `json:"id"`
	IssueID   uint64 `json:"issue_id"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
}

// Event represents a ledger log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Caller     string         `json:"caller"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// PaginatedIssues is one page of the marketplace listing.
type PaginatedIssues struct {
	Items      []Issue `json:"items"`
	NextCursor uint64  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a bearer token for address and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, address string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"address": address}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// RegisterOrganization stakes value and registers the caller.
func (c *Client) RegisterOrganization(ctx context.Context, repoURL, value string) (Organization, error) {
	var resp Organization
	err := c.do(ctx, http.MethodPost, "v0/orgs", map[string]any{"repo_url": repoURL, "value": value}, &resp)
	return resp, err
}

func (c *Client) Organization(ctx context.Context, address string) (Organization, error) {
	var resp Organization
	err := c.do(ctx, http.MethodGet, "v0/orgs/"+url.PathEscape(address), nil, &resp)
	return resp, err
}

// CreateIssue posts an issue for org; an empty org means the caller.
func (c *Client) CreateIssue(ctx context.Context, githubURL, description, bounty, difficulty, org string) (Issue, error) {
	body := map[string]any{
		"github_issue_url": githubURL,
		"description":      description,
		"bounty":           bounty,
		"difficulty":       difficulty,
	}
	if org != "" {
		body["org"] = org
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues", body, &resp)
	return resp, err
}

func (c *Client) Issue(ctx context.Context, id uint64) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/issues/%d", id), nil, &resp)
	return resp, err
}

// Issues returns one page of issues with the given status ("" for all).
func (c *Client) Issues(ctx context.Context, status string, limit int, cursor uint64) (PaginatedIssues, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	endpoint := "v0/issues"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedIssues
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TakeIssue bonds stake on an open issue.
func (c *Client) TakeIssue(ctx context.Context, id uint64, stake string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/issues/%d/take", id), map[string]any{"value": stake}, &resp)
	return resp, err
}

// CompleteIssue completes the caller's assignment and returns the queued payouts.
func (c *Client) CompleteIssue(ctx context.Context, id uint64) (Issue, []Payout, error) {
	var resp struct {
		Issue   Issue    `json:"issue"`
		Payouts []Payout `json:"payouts"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/issues/%d/complete", id), nil, &resp)
	return resp.Issue, resp.Payouts, err
}

func (c *Client) Balance(ctx context.Context, address string) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "v0/wallets/"+url.PathEscape(address), nil, &resp)
	return resp.Balance, err
}

// Fund mints into a wallet; only servers started with the faucet accept it.
func (c *Client) Fund(ctx context.Context, address, amount string) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "v0/wallets/"+url.PathEscape(address)+"/fund", map[string]any{"amount": amount}, &resp)
	return resp.Balance, err
}

// EventsPage returns events after cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
