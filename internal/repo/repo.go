package repo

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns tx when set so reads made during a mutation observe its writes.
func (r Repo) conn(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// UpsertConfig validates cfg and stores it as the ledger's single config row.
func (r Repo) UpsertConfig(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO ledger_config(id,config_yaml,updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, buf.String(), nowRFC3339())
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM ledger_config WHERE id=1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(payload))
}

// NextIssueID returns the id the next CreateIssue will allocate.
func (r Repo) NextIssueID(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var next uint64
	err := r.conn(tx).QueryRowContext(ctx, `SELECT next_issue_id FROM ledger_counters WHERE id=1`).Scan(&next)
	return next, err
}

// AllocateIssueID bumps the counter and returns the id it held.
func (r Repo) AllocateIssueID(ctx context.Context, tx *sql.Tx) (uint64, error) {
	id, err := r.NextIssueID(ctx, tx)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE ledger_counters SET next_issue_id=? WHERE id=1 AND next_issue_id=?`, id+1, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return 0, fmt.Errorf("issue counter moved concurrently")
	}
	return id, nil
}
