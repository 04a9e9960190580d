package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/repo"
	"bountyline/internal/wei"
)

// IssueCreateOptions are the arguments of CreateIssue.
type IssueCreateOptions struct {
	GithubIssueURL string
	Description    string
	Bounty         wei.Amount
	Difficulty     domain.Difficulty
	Org            common.Address
}

// CreateIssue reserves opts.Bounty out of the organization's available
// rewards and allocates the next issue id. A failed call allocates nothing.
func (e Engine) CreateIssue(ctx context.Context, call Call, opts IssueCreateOptions) (domain.Issue, error) {
	if err := requireNonPayable(call); err != nil {
		return domain.Issue{}, err
	}
	if strings.TrimSpace(opts.GithubIssueURL) == "" {
		return domain.Issue{}, domain.ErrEmptyIssueURL
	}
	if !opts.Difficulty.Valid() {
		return domain.Issue{}, domain.ErrInvalidDifficulty
	}
	if opts.Bounty.IsZero() {
		return domain.Issue{}, domain.ErrInvalidBounty
	}
	if err := e.Auth.CanCreateIssue(opts.Org, call.From); err != nil {
		return domain.Issue{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	org, err := e.Repo.GetOrganization(ctx, tx, opts.Org)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Issue{}, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.Issue{}, err
	}
	if !org.IsActive {
		return domain.Issue{}, domain.ErrNotRegistered
	}
	if org.AvailableRewards.Lt(opts.Bounty) {
		return domain.Issue{}, fmt.Errorf("%w: available %s, bounty %s", domain.ErrInsufficientRewards, org.AvailableRewards, opts.Bounty)
	}
	available, err := org.AvailableRewards.Sub(opts.Bounty)
	if err != nil {
		return domain.Issue{}, checkArithmetic(err)
	}
	id, err := e.Repo.AllocateIssueID(ctx, tx)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("allocate issue id: %w", err)
	}
	issue := domain.Issue{
		ID:             id,
		Org:            org.Address,
		GithubIssueURL: strings.TrimSpace(opts.GithubIssueURL),
		Description:    opts.Description,
		Bounty:         opts.Bounty,
		Difficulty:     opts.Difficulty,
		Stake:          wei.Zero(),
		CreatedAt:      e.now().Unix(),
	}
	if err := e.Repo.InsertIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if err := e.Repo.UpdateOrganizationFunds(ctx, tx, org.Address, org.TotalStaked, available, org.AICredits); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Events.Append(ctx, tx, events.IssueCreated, events.EntityIssue, domain.IssueKey(id), call.From.Hex(), events.EventPayload{
		"issueId":        id,
		"org":            org.Address.Hex(),
		"githubIssueUrl": issue.GithubIssueURL,
		"bounty":         issue.Bounty.String(),
		"difficulty":     uint8(issue.Difficulty),
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := e.checkOrganization(ctx, tx, org.Address); err != nil {
		return domain.Issue{}, err
	}
	if err := e.commit(tx, "create issue"); err != nil {
		return domain.Issue{}, err
	}
	e.log().Info("issue created", "issue", id, "org", org.Address.Hex(), "bounty", issue.Bounty.String(), "difficulty", issue.Difficulty.String())
	return issue, nil
}

func (e Engine) GetIssueInfo(ctx context.Context, id uint64) (domain.Issue, error) {
	return e.Repo.GetIssue(ctx, nil, id)
}

// GetOrganizationIssues lists the ids an organization created, oldest first.
func (e Engine) GetOrganizationIssues(ctx context.Context, org common.Address) ([]uint64, error) {
	return e.Repo.OrganizationIssueIDs(ctx, nil, org)
}

func (e Engine) NextIssueID(ctx context.Context) (uint64, error) {
	return e.Repo.NextIssueID(ctx, nil)
}

func (e Engine) MinOrgStake() (wei.Amount, error) {
	cfg, err := e.config()
	if err != nil {
		return wei.Amount{}, err
	}
	return cfg.Ledger.MinOrgStake, nil
}

// DeadlineDurations returns the default assignment windows in seconds.
func (e Engine) DeadlineDurations() (easy, medium, hard uint64, err error) {
	cfg, err := e.config()
	if err != nil {
		return 0, 0, 0, err
	}
	easy, medium, hard = cfg.Durations()
	return easy, medium, hard, nil
}

// IssuePage is one page of the marketplace listing.
type IssuePage struct {
	Issues     []domain.Issue
	NextCursor uint64
}

// ListIssues pages through issues in id order. NextCursor is zero on the last page.
func (e Engine) ListIssues(ctx context.Context, f repo.IssueFilters) (IssuePage, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	want := f.Limit
	f.Limit = want + 1
	issues, err := e.Repo.ListIssues(ctx, f)
	if err != nil {
		return IssuePage{}, err
	}
	page := IssuePage{Issues: issues}
	if len(issues) > want {
		page.Issues = issues[:want]
		page.NextCursor = page.Issues[want-1].ID
	}
	return page, nil
}

// StakeBounds returns the inclusive range a contributor may stake on bounty.
func (e Engine) StakeBounds(bounty wei.Amount) (lo, hi wei.Amount, err error) {
	cfg, err := e.config()
	if err != nil {
		return wei.Amount{}, wei.Amount{}, err
	}
	lo, err = bounty.MulDiv(cfg.Ledger.StakeMinPercent, 100)
	if err != nil {
		return wei.Amount{}, wei.Amount{}, checkArithmetic(err)
	}
	hi, err = bounty.MulDiv(cfg.Ledger.StakeMaxPercent, 100)
	if err != nil {
		return wei.Amount{}, wei.Amount{}, checkArithmetic(err)
	}
	return lo, hi, nil
}
