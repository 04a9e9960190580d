package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/events"
	"bountyline/internal/repo"
	"bountyline/internal/wei"
)

const timeLayout = time.RFC3339

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Payer  Payer
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Auth:   auth.Service{Config: cfg},
		Config: cfg,
		Payer:  WalletPayer{Repo: r},
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

// Call carries the identity and attached value of a ledger call, the way a
// transaction carries its sender and payment.
type Call struct {
	From  common.Address
	Value wei.Amount
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

func requireNonPayable(call Call) error {
	if !call.Value.IsZero() {
		return domain.ErrNonPayable
	}
	return nil
}

// collect moves the value attached to a payable call out of the caller's
// wallet and into ledger custody.
func (e Engine) collect(ctx context.Context, tx *sql.Tx, call Call) error {
	if call.Value.IsZero() {
		return nil
	}
	if _, err := e.Repo.Debit(ctx, tx, call.From, call.Value); err != nil {
		return fmt.Errorf("collect payment: %w", err)
	}
	return nil
}

// checkArithmetic maps wei overflow and underflow onto the ledger error.
func checkArithmetic(err error) error {
	if errors.Is(err, wei.ErrOverflow) || errors.Is(err, wei.ErrUnderflow) {
		return fmt.Errorf("%w: %v", domain.ErrOverflow, err)
	}
	return err
}

func (e Engine) commit(tx *sql.Tx, op string) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}
