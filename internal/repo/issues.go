package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

const issueColumns = `id,org,github_issue_url,description,bounty,difficulty,COALESCE(assigned_to,''),stake,is_assigned,is_completed,created_at,deadline`

func scanIssue(row rowScanner) (domain.Issue, error) {
	var (
		i                   domain.Issue
		org, assignee       string
		difficulty          uint8
		assigned, completed int
	)
	err := row.Scan(&i.ID, &org, &i.GithubIssueURL, &i.Description, &i.Bounty, &difficulty, &assignee, &i.Stake, &assigned, &completed, &i.CreatedAt, &i.Deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.Org = common.HexToAddress(org)
	if assignee != "" {
		i.AssignedTo = common.HexToAddress(assignee)
	}
	i.Difficulty = domain.Difficulty(difficulty)
	i.IsAssigned = assigned == 1
	i.IsCompleted = completed == 1
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(id,org,github_issue_url,description,bounty,difficulty,stake,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		i.ID, i.Org.Hex(), i.GithubIssueURL, i.Description, i.Bounty, uint8(i.Difficulty), i.Stake, i.CreatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, tx *sql.Tx, id uint64) (domain.Issue, error) {
	return scanIssue(r.conn(tx).QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

// AssignIssue moves an open issue to assigned. It reports false when the
// issue was no longer open, which is how a lost take race surfaces.
func (r Repo) AssignIssue(ctx context.Context, tx *sql.Tx, id uint64, assignee common.Address, stake wei.Amount, deadline int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET assigned_to=?, stake=?, is_assigned=1, deadline=? WHERE id=? AND is_assigned=0 AND is_completed=0`,
		assignee.Hex(), stake, deadline, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteIssue marks an assigned issue completed and clears its deadline.
func (r Repo) CompleteIssue(ctx context.Context, tx *sql.Tx, id uint64, assignee common.Address) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET is_completed=1, deadline=0 WHERE id=? AND is_assigned=1 AND is_completed=0 AND assigned_to=?`,
		id, assignee.Hex())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReopenIssue returns an assigned issue to open, clearing assignee, stake and deadline.
func (r Repo) ReopenIssue(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET assigned_to=NULL, stake='0', is_assigned=0, deadline=0 WHERE id=? AND is_assigned=1 AND is_completed=0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// OrganizationIssueIDs returns every issue id an organization created, in creation order.
func (r Repo) OrganizationIssueIDs(ctx context.Context, tx *sql.Tx, org common.Address) ([]uint64, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id FROM issues WHERE org=? ORDER BY id`, org.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OutstandingBounties returns the bounties of an organization's issues that
// have not been paid out.
func (r Repo) OutstandingBounties(ctx context.Context, tx *sql.Tx, org common.Address) ([]wei.Amount, error) {
	return r.amounts(ctx, tx, `SELECT bounty FROM issues WHERE org=? AND is_completed=0`, org.Hex())
}

// CountInconsistentIssues counts issues of org whose flags break
// completed=>assigned or deadline!=0 <=> (assigned and not completed).
func (r Repo) CountInconsistentIssues(ctx context.Context, tx *sql.Tx, org common.Address) (int, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE org=? AND (
		(is_completed=1 AND is_assigned=0) OR
		((deadline<>0) <> (is_assigned=1 AND is_completed=0)))`, org.Hex()).Scan(&n)
	return n, err
}

type IssueFilters struct {
	Org      *common.Address
	Assignee *common.Address
	Status   string
	Limit    int
	// AfterID is an exclusive cursor; results are ordered by id ascending.
	AfterID uint64
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Org != nil {
		clauses = append(clauses, "org=?")
		args = append(args, f.Org.Hex())
	}
	if f.Assignee != nil {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.Assignee.Hex())
	}
	switch f.Status {
	case "":
	case domain.IssueOpen:
		clauses = append(clauses, "is_assigned=0 AND is_completed=0")
	case domain.IssueAssigned:
		clauses = append(clauses, "is_assigned=1 AND is_completed=0")
	case domain.IssueCompleted:
		clauses = append(clauses, "is_completed=1")
	default:
		return nil, fmt.Errorf("unknown issue status %q", f.Status)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Issue{}
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}
