package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

// checkOrganization verifies the escrow invariants of one organization
// inside tx. Every mutating call runs it before commit so a violation reverts
// the whole call.
func (e Engine) checkOrganization(ctx context.Context, tx *sql.Tx, addr common.Address) error {
	org, err := e.Repo.GetOrganization(ctx, tx, addr)
	if err != nil {
		return fmt.Errorf("invariant check: %w", err)
	}
	if org.AvailableRewards.Gt(org.TotalStaked) {
		return fmt.Errorf("%w: %s available exceeds %s staked", domain.ErrInvariant, org.AvailableRewards, org.TotalStaked)
	}
	outstanding, err := e.Repo.OutstandingBounties(ctx, tx, addr)
	if err != nil {
		return fmt.Errorf("invariant check: %w", err)
	}
	reserved, err := wei.Sum(outstanding...)
	if err != nil {
		return fmt.Errorf("%w: reserved bounties overflow", domain.ErrInvariant)
	}
	expected, err := org.AvailableRewards.Add(reserved)
	if err != nil || !expected.Eq(org.TotalStaked) {
		return fmt.Errorf("%w: staked %s != available %s + reserved %s", domain.ErrInvariant, org.TotalStaked, org.AvailableRewards, reserved)
	}
	bad, err := e.Repo.CountInconsistentIssues(ctx, tx, addr)
	if err != nil {
		return fmt.Errorf("invariant check: %w", err)
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d issues with inconsistent assignment flags", domain.ErrInvariant, bad)
	}
	return nil
}

// Custody totals every place native currency can sit. Total stays constant
// across all calls except Fund.
type Custody struct {
	Wallets        wei.Amount `json:"wallets"`
	Organizations  wei.Amount `json:"organizations"`
	ActiveBonds    wei.Amount `json:"active_bonds"`
	PendingPayouts wei.Amount `json:"pending_payouts"`
	Total          wei.Amount `json:"total"`
}

// CustodyReport sums custody in one read transaction.
func (e Engine) CustodyReport(ctx context.Context) (Custody, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Custody{}, err
	}
	defer tx.Rollback()

	var c Custody
	wallets, err := e.Repo.WalletBalances(ctx, tx)
	if err != nil {
		return Custody{}, err
	}
	if c.Wallets, err = wei.Sum(wallets...); err != nil {
		return Custody{}, checkArithmetic(err)
	}
	orgs, err := e.Repo.ListOrganizations(ctx, tx)
	if err != nil {
		return Custody{}, err
	}
	for _, o := range orgs {
		if c.Organizations, err = wei.Sum(c.Organizations, o.TotalStaked, o.AICredits); err != nil {
			return Custody{}, checkArithmetic(err)
		}
	}
	bonds, err := e.Repo.ActiveStakes(ctx, tx)
	if err != nil {
		return Custody{}, err
	}
	if c.ActiveBonds, err = wei.Sum(bonds...); err != nil {
		return Custody{}, checkArithmetic(err)
	}
	pending, err := e.Repo.UnsettledPayouts(ctx, tx)
	if err != nil {
		return Custody{}, err
	}
	if c.PendingPayouts, err = wei.Sum(pending...); err != nil {
		return Custody{}, checkArithmetic(err)
	}
	if c.Total, err = wei.Sum(c.Wallets, c.Organizations, c.ActiveBonds, c.PendingPayouts); err != nil {
		return Custody{}, checkArithmetic(err)
	}
	return c, nil
}
