package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

const orgColumns = `address,owner,repo_url,total_staked,available_rewards,ai_credits,is_active,easy_duration,medium_duration,hard_duration,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (domain.Organization, error) {
	var (
		o            domain.Organization
		addr, owner  string
		active       int
		easy, medium uint64
		hard         uint64
	)
	err := row.Scan(&addr, &owner, &o.RepoURL, &o.TotalStaked, &o.AvailableRewards, &o.AICredits, &active, &easy, &medium, &hard, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Address = common.HexToAddress(addr)
	o.Owner = common.HexToAddress(owner)
	o.IsActive = active == 1
	o.EasyDuration, o.MediumDuration, o.HardDuration = easy, medium, hard
	return o, nil
}

func (r Repo) InsertOrganization(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	if o.CreatedAt == "" {
		o.CreatedAt = nowRFC3339()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO organizations(`+orgColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.Address.Hex(), o.Owner.Hex(), o.RepoURL, o.TotalStaked, o.AvailableRewards, o.AICredits,
		boolInt(o.IsActive), o.EasyDuration, o.MediumDuration, o.HardDuration, o.CreatedAt)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, tx *sql.Tx, addr common.Address) (domain.Organization, error) {
	return scanOrganization(r.conn(tx).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE address=?`, addr.Hex()))
}

// UpdateOrganizationFunds writes the three balances of an organization.
func (r Repo) UpdateOrganizationFunds(ctx context.Context, tx *sql.Tx, addr common.Address, totalStaked, available, credits wei.Amount) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET total_staked=?, available_rewards=?, ai_credits=? WHERE address=?`,
		totalStaked, available, credits, addr.Hex())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListOrganizations(ctx context.Context, tx *sql.Tx) ([]domain.Organization, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY created_at, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
