package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

const payoutColumns = `id,issue_id,recipient,amount,kind,status,attempts,COALESCE(last_error,''),created_at,settled_at`

func scanPayout(row rowScanner) (domain.Payout, error) {
	var (
		p         domain.Payout
		recipient string
		settled   sql.NullString
	)
	err := row.Scan(&p.ID, &p.IssueID, &recipient, &p.Amount, &p.Kind, &p.Status, &p.Attempts, &p.LastError, &p.CreatedAt, &settled)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Recipient = common.HexToAddress(recipient)
	if settled.Valid {
		v := settled.String
		p.SettledAt = &v
	}
	return p, nil
}

func (r Repo) InsertPayout(ctx context.Context, tx *sql.Tx, p domain.Payout) error {
	if p.CreatedAt == "" {
		p.CreatedAt = nowRFC3339()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO payouts(id,issue_id,recipient,amount,kind,status,attempts,created_at) VALUES (?,?,?,?,?,?,0,?)`,
		p.ID, p.IssueID, p.Recipient.Hex(), p.Amount, p.Kind, domain.PayoutPending, p.CreatedAt)
	return err
}

func (r Repo) GetPayout(ctx context.Context, tx *sql.Tx, id string) (domain.Payout, error) {
	return scanPayout(r.conn(tx).QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id=?`, id))
}

// MarkPayoutSettled settles a pending payout. It reports false when another
// settler got there first.
func (r Repo) MarkPayoutSettled(ctx context.Context, tx *sql.Tx, id, at string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payouts SET status=?, settled_at=?, attempts=attempts+1, last_error=NULL WHERE id=? AND status=?`,
		domain.PayoutSettled, at, id, domain.PayoutPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecordPayoutFailure keeps a payout pending and notes why the transfer failed.
func (r Repo) RecordPayoutFailure(ctx context.Context, id, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE payouts SET attempts=attempts+1, last_error=? WHERE id=? AND status=?`,
		nullable(lastError), id, domain.PayoutPending)
	return err
}

type PayoutFilters struct {
	Status    string
	Recipient *common.Address
	IssueID   uint64
	Limit     int
}

func (r Repo) ListPayouts(ctx context.Context, f PayoutFilters) ([]domain.Payout, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Recipient != nil {
		clauses = append(clauses, "recipient=?")
		args = append(args, f.Recipient.Hex())
	}
	if f.IssueID > 0 {
		clauses = append(clauses, "issue_id=?")
		args = append(args, f.IssueID)
	}
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at, rowid`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Payout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UnsettledPayouts returns amounts owed but not yet delivered.
func (r Repo) UnsettledPayouts(ctx context.Context, tx *sql.Tx) ([]wei.Amount, error) {
	return r.amounts(ctx, tx, `SELECT amount FROM payouts WHERE status='pending'`)
}
