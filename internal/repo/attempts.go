package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

func (r Repo) HasAttempted(ctx context.Context, tx *sql.Tx, issueID uint64, contributor common.Address) (bool, error) {
	var one int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE issue_id=? AND contributor=?`, issueID, contributor.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertAttempt(ctx context.Context, tx *sql.Tx, a domain.Attempt) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attempts(issue_id,contributor,stake,outcome,taken_at) VALUES (?,?,?,?,?)`,
		a.IssueID, a.Contributor.Hex(), a.Stake, domain.AttemptActive, a.TakenAt)
	return err
}

// ResolveAttempt closes the active attempt of contributor on an issue.
func (r Repo) ResolveAttempt(ctx context.Context, tx *sql.Tx, issueID uint64, contributor common.Address, outcome string, at int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE attempts SET outcome=?, resolved_at=? WHERE issue_id=? AND contributor=? AND outcome=?`,
		outcome, at, issueID, contributor.Hex(), domain.AttemptActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAttempts(ctx context.Context, issueID uint64) ([]domain.Attempt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id,contributor,stake,outcome,taken_at,resolved_at FROM attempts WHERE issue_id=? ORDER BY taken_at, contributor`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Attempt{}
	for rows.Next() {
		var (
			a        domain.Attempt
			addr     string
			resolved sql.NullInt64
		)
		if err := rows.Scan(&a.IssueID, &addr, &a.Stake, &a.Outcome, &a.TakenAt, &resolved); err != nil {
			return nil, err
		}
		a.Contributor = common.HexToAddress(addr)
		if resolved.Valid {
			v := resolved.Int64
			a.ResolvedAt = &v
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActiveStakes returns the bonds currently held for assigned issues.
func (r Repo) ActiveStakes(ctx context.Context, tx *sql.Tx) ([]wei.Amount, error) {
	return r.amounts(ctx, tx, `SELECT stake FROM attempts WHERE outcome='active'`)
}

func (r Repo) amounts(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]wei.Amount, error) {
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []wei.Amount
	for rows.Next() {
		var a wei.Amount
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
