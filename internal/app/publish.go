package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/analysis"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/tracker"
	"bountyline/internal/wei"
)

type Analyzer interface {
	Analyze(ctx context.Context, repoURL string) (analysis.Result, error)
}

type IssueOpener interface {
	CreateIssue(ctx context.Context, repo tracker.Repo, req tracker.IssueRequest) (tracker.Issue, error)
}

type PublishOptions struct {
	RepoURL string
	// Bounty overrides the configured default for the analysed difficulty.
	Bounty *wei.Amount
	// Org defaults to the caller.
	Org    common.Address
	DryRun bool
}

type PublishResult struct {
	Analysis    analysis.Result `json:"analysis"`
	GithubIssue tracker.Issue   `json:"github_issue"`
	Issue       domain.Issue    `json:"issue"`
	Bounty      wei.Amount      `json:"bounty"`
}

// Publish analyses a repository, opens the proposed GitHub issue and posts it
// to the ledger with a bounty. The organization is checked before anything is
// opened on GitHub; a ledger failure after that point leaves the GitHub issue
// in place and the error names it.
func Publish(ctx context.Context, e engine.Engine, call engine.Call, a Analyzer, gh IssueOpener, opts PublishOptions) (PublishResult, error) {
	repo, err := tracker.ParseRepoURL(opts.RepoURL)
	if err != nil {
		return PublishResult{}, err
	}
	org := opts.Org
	if org == (common.Address{}) {
		org = call.From
	}
	res, err := a.Analyze(ctx, opts.RepoURL)
	if err != nil {
		return PublishResult{}, err
	}
	difficulty := res.LedgerDifficulty()
	bounty := e.Config.DefaultBounty(difficulty)
	if opts.Bounty != nil {
		bounty = *opts.Bounty
	}
	out := PublishResult{Analysis: res, Bounty: bounty}

	info, err := e.GetOrganizationInfo(ctx, org)
	if err != nil {
		return PublishResult{}, err
	}
	if !info.IsActive {
		return PublishResult{}, domain.ErrNotRegistered
	}
	if info.AvailableRewards.Lt(bounty) {
		return PublishResult{}, fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientRewards, bounty, info.AvailableRewards)
	}
	if opts.DryRun {
		return out, nil
	}

	ghIssue, err := gh.CreateIssue(ctx, repo, tracker.IssueRequest{
		Title:  res.Title,
		Body:   issueBody(res),
		Labels: res.Labels,
	})
	if err != nil {
		return PublishResult{}, err
	}
	out.GithubIssue = ghIssue
	issue, err := e.CreateIssue(ctx, call, engine.IssueCreateOptions{
		GithubIssueURL: ghIssue.HTMLURL,
		Description:    res.Title,
		Bounty:         bounty,
		Difficulty:     difficulty,
		Org:            org,
	})
	if err != nil {
		return out, fmt.Errorf("github issue %s opened but ledger rejected it: %w", ghIssue.HTMLURL, err)
	}
	out.Issue = issue
	return out, nil
}

func issueBody(res analysis.Result) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(res.Body))
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n\n## %s\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	section("Acceptance Criteria", res.AcceptanceCriteria)
	section("Technical Requirements", res.TechnicalRequirements)
	if res.ImplementationEstimate != "" {
		fmt.Fprintf(&b, "\n**Estimate:** %s\n", res.ImplementationEstimate)
	}
	if b.Len() == 0 {
		return res.Title
	}
	return b.String()
}
