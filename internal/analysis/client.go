package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"bountyline/internal/domain"
)

var (
	// ErrAnalysisFailed means the scorer answered but reported failure.
	ErrAnalysisFailed = errors.New("ai analysis reported failure")
	// ErrAnalysisTimeout means no answer arrived before the deadline.
	ErrAnalysisTimeout = errors.New("ai analysis timed out")
)

// Result is the synthesized issue proposed for a repository.
type Result struct {
	Title                  string   `json:"title"`
	Body                   string   `json:"body"`
	Difficulty             string   `json:"difficulty"`
	Priority               string   `json:"priority"`
	Labels                 []string `json:"labels"`
	AcceptanceCriteria     []string `json:"acceptance_criteria"`
	TechnicalRequirements  []string `json:"technical_requirements"`
	ImplementationEstimate string   `json:"implementation_estimate"`
}

// LedgerDifficulty maps the scorer's Easy/Medium/Hard onto the ledger enum.
// Unknown values fall back to medium, as the scorer itself does.
func (r Result) LedgerDifficulty() domain.Difficulty {
	d, err := domain.ParseDifficulty(r.Difficulty)
	if err != nil {
		return domain.DifficultyMedium
	}
	return d
}

type response struct {
	Success             bool     `json:"success"`
	Error               string   `json:"error"`
	Repository          string   `json:"repository"`
	AgentsUsed          int      `json:"agents_used"`
	SelectedAgents      []string `json:"selected_agents"`
	SynthesizedAnalysis *Result  `json:"synthesized_analysis"`
}

// Client calls the repository scorer over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, Timeout: timeout}
}

// Analyze asks the scorer to propose an issue for repoURL.
func (c *Client) Analyze(ctx context.Context, repoURL string) (Result, error) {
	if strings.TrimSpace(repoURL) == "" {
		return Result{}, errors.New("repository url is required")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	payload, err := json.Marshal(map[string]string{"repo_url": repoURL})
	if err != nil {
		return Result{}, err
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/api/analyze-repo"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, fmt.Errorf("%w: %v", ErrAnalysisTimeout, err)
		}
		return Result{}, fmt.Errorf("call analysis service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, fmt.Errorf("%w: %v", ErrAnalysisTimeout, err)
		}
		return Result{}, fmt.Errorf("read analysis response: %w", err)
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode >= 300 {
			return Result{}, fmt.Errorf("analysis service responded with status %d", resp.StatusCode)
		}
		return Result{}, fmt.Errorf("decode analysis response: %w", err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrAnalysisFailed, msg)
	}
	if out.SynthesizedAnalysis == nil {
		return Result{}, fmt.Errorf("%w: response has no synthesized analysis", ErrAnalysisFailed)
	}
	return *out.SynthesizedAnalysis, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
