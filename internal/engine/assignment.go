package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/wei"
)

// Issue transitions.
const (
	actionTake     = "take"
	actionComplete = "complete"
	actionExpire   = "expire"
	actionReject   = "reject"
)

// ensureIssueTransition validates the action against the issue's current state.
func ensureIssueTransition(issue domain.Issue, action string) error {
	switch issue.Status() {
	case domain.IssueCompleted:
		return domain.ErrAlreadyCompleted
	case domain.IssueAssigned:
		if action == actionTake {
			return domain.ErrAlreadyAssigned
		}
		return nil
	case domain.IssueOpen:
		if action == actionTake {
			return nil
		}
		return domain.ErrNotAssigned
	}
	return fmt.Errorf("unknown issue state %s", issue.Status())
}

func (e Engine) loadIssue(ctx context.Context, tx *sql.Tx, id uint64) (domain.Issue, error) {
	issue, err := e.Repo.GetIssue(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Issue{}, fmt.Errorf("issue %d: %w", id, domain.ErrNotFound)
	}
	return issue, err
}

// TakeIssue bonds call.Value and assigns the issue to call.From. Of two
// concurrent takers exactly one wins; the other fails with ErrAlreadyAssigned
// and keeps its bond.
func (e Engine) TakeIssue(ctx context.Context, call Call, issueID uint64) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, err := e.loadIssue(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := ensureIssueTransition(issue, actionTake); err != nil {
		return domain.Issue{}, err
	}
	attempted, err := e.Repo.HasAttempted(ctx, tx, issueID, call.From)
	if err != nil {
		return domain.Issue{}, err
	}
	if attempted {
		return domain.Issue{}, domain.ErrAlreadyAttempted
	}
	lo, hi, err := e.StakeBounds(issue.Bounty)
	if err != nil {
		return domain.Issue{}, err
	}
	if call.Value.Lt(lo) || call.Value.Gt(hi) || call.Value.IsZero() {
		return domain.Issue{}, fmt.Errorf("%w: stake %s outside [%s, %s]", domain.ErrInvalidStake, call.Value, lo, hi)
	}
	org, err := e.Repo.GetOrganization(ctx, tx, issue.Org)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("load organization: %w", err)
	}
	now := e.now().Unix()
	deadline, err := deadlineAfter(now, org.Duration(issue.Difficulty))
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.collect(ctx, tx, call); err != nil {
		return domain.Issue{}, err
	}
	ok, err := e.Repo.AssignIssue(ctx, tx, issueID, call.From, call.Value, deadline)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("assign issue: %w", err)
	}
	if !ok {
		return domain.Issue{}, domain.ErrAlreadyAssigned
	}
	if err := e.Repo.InsertAttempt(ctx, tx, domain.Attempt{IssueID: issueID, Contributor: call.From, Stake: call.Value, TakenAt: now}); err != nil {
		return domain.Issue{}, fmt.Errorf("record attempt: %w", err)
	}
	if _, err := e.Events.Append(ctx, tx, events.IssueAssigned, events.EntityIssue, domain.IssueKey(issueID), call.From.Hex(), events.EventPayload{
		"issueId":     issueID,
		"contributor": call.From.Hex(),
		"deadline":    deadline,
		"stake":       call.Value.String(),
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := e.checkOrganization(ctx, tx, issue.Org); err != nil {
		return domain.Issue{}, err
	}
	if err := e.commit(tx, "take issue"); err != nil {
		return domain.Issue{}, err
	}
	issue.AssignedTo = call.From
	issue.Stake = call.Value
	issue.IsAssigned = true
	issue.Deadline = deadline
	e.log().Info("issue assigned", "issue", issueID, "contributor", call.From.Hex(), "deadline", deadline)
	return issue, nil
}

// deadlineAfter adds an assignment window to now without wrapping.
func deadlineAfter(now int64, window uint64) (int64, error) {
	if window == 0 || window > math.MaxInt64 || now < 0 || int64(window) > math.MaxInt64-now {
		return 0, fmt.Errorf("%w: deadline %d + %d", domain.ErrOverflow, now, window)
	}
	return now + int64(window), nil
}

// CompleteIssue finishes the caller's assignment, retires the bounty from the
// organization's stake and queues the bounty and bond for the contributor.
// The payouts are settled after the state change commits.
func (e Engine) CompleteIssue(ctx context.Context, call Call, issueID uint64) (domain.Issue, []domain.Payout, error) {
	if err := requireNonPayable(call); err != nil {
		return domain.Issue{}, nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, nil, err
	}
	defer tx.Rollback()

	issue, err := e.loadIssue(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, nil, err
	}
	if err := ensureIssueTransition(issue, actionComplete); err != nil {
		return domain.Issue{}, nil, err
	}
	if err := e.Auth.RequireAssignee(issue, call.From); err != nil {
		return domain.Issue{}, nil, err
	}
	org, err := e.Repo.GetOrganization(ctx, tx, issue.Org)
	if err != nil {
		return domain.Issue{}, nil, fmt.Errorf("load organization: %w", err)
	}
	totalStaked, err := org.TotalStaked.Sub(issue.Bounty)
	if err != nil {
		return domain.Issue{}, nil, checkArithmetic(err)
	}
	ok, err := e.Repo.CompleteIssue(ctx, tx, issueID, call.From)
	if err != nil {
		return domain.Issue{}, nil, fmt.Errorf("complete issue: %w", err)
	}
	if !ok {
		return domain.Issue{}, nil, domain.ErrAlreadyCompleted
	}
	now := e.now()
	if err := e.Repo.ResolveAttempt(ctx, tx, issueID, call.From, domain.AttemptCompleted, now.Unix()); err != nil {
		return domain.Issue{}, nil, fmt.Errorf("resolve attempt: %w", err)
	}
	if err := e.Repo.UpdateOrganizationFunds(ctx, tx, org.Address, totalStaked, org.AvailableRewards, org.AICredits); err != nil {
		return domain.Issue{}, nil, err
	}
	payouts := []domain.Payout{e.newPayout(issueID, call.From, issue.Bounty, domain.PayoutBounty)}
	if !issue.Stake.IsZero() {
		payouts = append(payouts, e.newPayout(issueID, call.From, issue.Stake, domain.PayoutStakeRefund))
	}
	for _, p := range payouts {
		if err := e.Repo.InsertPayout(ctx, tx, p); err != nil {
			return domain.Issue{}, nil, fmt.Errorf("queue payout: %w", err)
		}
	}
	if _, err := e.Events.Append(ctx, tx, events.IssueCompleted, events.EntityIssue, domain.IssueKey(issueID), call.From.Hex(), events.EventPayload{
		"issueId":     issueID,
		"contributor": call.From.Hex(),
		"reward":      issue.Bounty.String(),
		"stake":       issue.Stake.String(),
	}); err != nil {
		return domain.Issue{}, nil, err
	}
	if err := e.checkOrganization(ctx, tx, org.Address); err != nil {
		return domain.Issue{}, nil, err
	}
	if err := e.commit(tx, "complete issue"); err != nil {
		return domain.Issue{}, nil, err
	}
	issue.IsCompleted = true
	issue.Deadline = 0
	e.log().Info("issue completed", "issue", issueID, "contributor", call.From.Hex(), "reward", issue.Bounty.String())

	settled := make([]domain.Payout, 0, len(payouts))
	for _, p := range payouts {
		out, err := e.SettlePayout(ctx, p.ID)
		if err != nil {
			// The payout stays pending for the dispatcher.
			e.log().Warn("payout deferred", "payout", p.ID, "issue", issueID, "err", err)
			settled = append(settled, p)
			continue
		}
		settled = append(settled, out)
	}
	return issue, settled, nil
}

func (e Engine) newPayout(issueID uint64, to common.Address, amount wei.Amount, kind string) domain.Payout {
	return domain.Payout{
		ID:        uuid.NewString(),
		IssueID:   issueID,
		Recipient: to,
		Amount:    amount,
		Kind:      kind,
		Status:    domain.PayoutPending,
		CreatedAt: e.now().UTC().Format(timeLayout),
	}
}

// ExpireAssignment reopens an issue whose deadline has passed. Anyone may
// call it. The contributor's bond is forfeited to the organization.
func (e Engine) ExpireAssignment(ctx context.Context, call Call, issueID uint64) (domain.Issue, error) {
	if err := requireNonPayable(call); err != nil {
		return domain.Issue{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, err := e.loadIssue(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := ensureIssueTransition(issue, actionExpire); err != nil {
		return domain.Issue{}, err
	}
	now := e.now().Unix()
	if now <= issue.Deadline {
		return domain.Issue{}, fmt.Errorf("%w: deadline %d, now %d", domain.ErrDeadlineNotReached, issue.Deadline, now)
	}
	org, err := e.Repo.GetOrganization(ctx, tx, issue.Org)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("load organization: %w", err)
	}
	totalStaked, err := org.TotalStaked.Add(issue.Stake)
	if err != nil {
		return domain.Issue{}, checkArithmetic(err)
	}
	available, err := org.AvailableRewards.Add(issue.Stake)
	if err != nil {
		return domain.Issue{}, checkArithmetic(err)
	}
	contributor := issue.AssignedTo
	if err := e.reopen(ctx, tx, issue, domain.AttemptExpired, now); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Repo.UpdateOrganizationFunds(ctx, tx, org.Address, totalStaked, available, org.AICredits); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Events.Append(ctx, tx, events.IssueReopened, events.EntityIssue, domain.IssueKey(issueID), call.From.Hex(), events.EventPayload{
		"issueId":     issueID,
		"contributor": contributor.Hex(),
		"reason":      domain.AttemptExpired,
	}); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Events.Append(ctx, tx, events.StakeForfeited, events.EntityIssue, domain.IssueKey(issueID), call.From.Hex(), events.EventPayload{
		"issueId":     issueID,
		"contributor": contributor.Hex(),
		"org":         org.Address.Hex(),
		"amount":      issue.Stake.String(),
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := e.checkOrganization(ctx, tx, org.Address); err != nil {
		return domain.Issue{}, err
	}
	if err := e.commit(tx, "expire assignment"); err != nil {
		return domain.Issue{}, err
	}
	e.log().Info("assignment expired", "issue", issueID, "contributor", contributor.Hex(), "forfeited", issue.Stake.String())
	return e.Repo.GetIssue(ctx, nil, issueID)
}

// RejectAssignment lets the organization owner reopen an assigned issue.
// The contributor's bond is refunded.
func (e Engine) RejectAssignment(ctx context.Context, call Call, issueID uint64) (domain.Issue, error) {
	if err := requireNonPayable(call); err != nil {
		return domain.Issue{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, err := e.loadIssue(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	org, err := e.Repo.GetOrganization(ctx, tx, issue.Org)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("load organization: %w", err)
	}
	if err := e.Auth.RequireOwner(org, call.From); err != nil {
		return domain.Issue{}, err
	}
	if err := ensureIssueTransition(issue, actionReject); err != nil {
		return domain.Issue{}, err
	}
	now := e.now().Unix()
	contributor, stake := issue.AssignedTo, issue.Stake
	if err := e.reopen(ctx, tx, issue, domain.AttemptRejected, now); err != nil {
		return domain.Issue{}, err
	}
	var refund *domain.Payout
	if !stake.IsZero() {
		p := e.newPayout(issueID, contributor, stake, domain.PayoutStakeRefund)
		if err := e.Repo.InsertPayout(ctx, tx, p); err != nil {
			return domain.Issue{}, fmt.Errorf("queue refund: %w", err)
		}
		refund = &p
	}
	if _, err := e.Events.Append(ctx, tx, events.IssueReopened, events.EntityIssue, domain.IssueKey(issueID), call.From.Hex(), events.EventPayload{
		"issueId":     issueID,
		"contributor": contributor.Hex(),
		"reason":      domain.AttemptRejected,
	}); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Events.Append(ctx, tx, events.StakeRefunded, events.EntityIssue, domain.IssueKey(issueID), call.From.Hex(), events.EventPayload{
		"issueId":     issueID,
		"contributor": contributor.Hex(),
		"amount":      stake.String(),
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := e.checkOrganization(ctx, tx, org.Address); err != nil {
		return domain.Issue{}, err
	}
	if err := e.commit(tx, "reject assignment"); err != nil {
		return domain.Issue{}, err
	}
	e.log().Info("assignment rejected", "issue", issueID, "contributor", contributor.Hex())
	if refund != nil {
		if _, err := e.SettlePayout(ctx, refund.ID); err != nil {
			e.log().Warn("payout deferred", "payout", refund.ID, "issue", issueID, "err", err)
		}
	}
	return e.Repo.GetIssue(ctx, nil, issueID)
}

func (e Engine) reopen(ctx context.Context, tx *sql.Tx, issue domain.Issue, outcome string, at int64) error {
	ok, err := e.Repo.ReopenIssue(ctx, tx, issue.ID)
	if err != nil {
		return fmt.Errorf("reopen issue: %w", err)
	}
	if !ok {
		return domain.ErrNotAssigned
	}
	if err := e.Repo.ResolveAttempt(ctx, tx, issue.ID, issue.AssignedTo, outcome, at); err != nil {
		return fmt.Errorf("resolve attempt: %w", err)
	}
	return nil
}
