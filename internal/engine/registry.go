package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/wei"
)

// RegistrationOptions are the arguments of RegisterOrganization. Zero
// durations fall back to the configured defaults.
type RegistrationOptions struct {
	RepoURL        string
	EasyDuration   uint64
	MediumDuration uint64
	HardDuration   uint64
}

// RegisterOrganization stakes call.Value and registers call.From as an organization.
func (e Engine) RegisterOrganization(ctx context.Context, call Call, opts RegistrationOptions) (domain.Organization, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.Organization{}, err
	}
	repoURL := strings.TrimSpace(opts.RepoURL)
	if repoURL == "" {
		return domain.Organization{}, domain.ErrEmptyRepoURL
	}
	if call.Value.Lt(cfg.Ledger.MinOrgStake) {
		return domain.Organization{}, fmt.Errorf("%w: got %s wei, need %s", domain.ErrInsufficientStake, call.Value, cfg.Ledger.MinOrgStake)
	}
	easy, medium, hard := cfg.Durations()
	if opts.EasyDuration != 0 {
		easy = opts.EasyDuration
	}
	if opts.MediumDuration != 0 {
		medium = opts.MediumDuration
	}
	if opts.HardDuration != 0 {
		hard = opts.HardDuration
	}
	for i, d := range []uint64{easy, medium, hard} {
		if !domain.ValidDuration(d) {
			return domain.Organization{}, fmt.Errorf("%w: %s duration %d not in (0, %d] seconds", domain.ErrInvalidDuration, domain.Difficulty(i), d, domain.MaxDuration)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetOrganization(ctx, tx, call.From); err == nil {
		return domain.Organization{}, domain.ErrAlreadyRegistered
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Organization{}, err
	}
	if err := e.collect(ctx, tx, call); err != nil {
		return domain.Organization{}, err
	}
	org := domain.Organization{
		Address:          call.From,
		Owner:            call.From,
		RepoURL:          repoURL,
		TotalStaked:      call.Value,
		AvailableRewards: call.Value,
		AICredits:        wei.Zero(),
		IsActive:         true,
		EasyDuration:     easy,
		MediumDuration:   medium,
		HardDuration:     hard,
		CreatedAt:        e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertOrganization(ctx, tx, org); err != nil {
		return domain.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	if _, err := e.Events.Append(ctx, tx, events.OrganizationRegistered, events.EntityOrganization, org.Address.Hex(), call.From.Hex(), events.EventPayload{
		"org":          org.Address.Hex(),
		"repoUrl":      org.RepoURL,
		"stakedAmount": org.TotalStaked.String(),
	}); err != nil {
		return domain.Organization{}, err
	}
	if err := e.checkOrganization(ctx, tx, org.Address); err != nil {
		return domain.Organization{}, err
	}
	if err := e.commit(tx, "register organization"); err != nil {
		return domain.Organization{}, err
	}
	e.log().Info("organization registered", "org", org.Address.Hex(), "staked", org.TotalStaked.String())
	return org, nil
}

// AddAICredits moves call.Value into the caller's AI-credit balance.
func (e Engine) AddAICredits(ctx context.Context, call Call) (domain.Organization, error) {
	if call.Value.IsZero() {
		return domain.Organization{}, domain.ErrInvalidAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()

	org, err := e.Repo.GetOrganization(ctx, tx, call.From)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Organization{}, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.Organization{}, err
	}
	if err := e.collect(ctx, tx, call); err != nil {
		return domain.Organization{}, err
	}
	credits, err := org.AICredits.Add(call.Value)
	if err != nil {
		return domain.Organization{}, checkArithmetic(err)
	}
	org.AICredits = credits
	if err := e.Repo.UpdateOrganizationFunds(ctx, tx, org.Address, org.TotalStaked, org.AvailableRewards, org.AICredits); err != nil {
		return domain.Organization{}, err
	}
	if _, err := e.Events.Append(ctx, tx, events.AICreditsAdded, events.EntityOrganization, org.Address.Hex(), call.From.Hex(), events.EventPayload{
		"org":        org.Address.Hex(),
		"amount":     call.Value.String(),
		"newBalance": org.AICredits.String(),
	}); err != nil {
		return domain.Organization{}, err
	}
	if err := e.commit(tx, "add ai credits"); err != nil {
		return domain.Organization{}, err
	}
	return org, nil
}

// GetOrganizationInfo returns the organization at addr. Unknown addresses
// yield a zero-valued, inactive record rather than an error.
func (e Engine) GetOrganizationInfo(ctx context.Context, addr common.Address) (domain.Organization, error) {
	org, err := e.Repo.GetOrganization(ctx, nil, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Organization{Address: addr}, nil
	}
	return org, err
}

// ListOrganizations returns every registered organization.
func (e Engine) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	return e.Repo.ListOrganizations(ctx, nil)
}
