package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

// Balance returns the wallet balance of addr; unknown wallets hold zero.
func (r Repo) Balance(ctx context.Context, tx *sql.Tx, addr common.Address) (wei.Amount, error) {
	var bal wei.Amount
	err := r.conn(tx).QueryRowContext(ctx, `SELECT balance FROM wallets WHERE address=?`, addr.Hex()).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return wei.Zero(), nil
	}
	return bal, err
}

func (r Repo) setBalance(ctx context.Context, tx *sql.Tx, addr common.Address, bal wei.Amount) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO wallets(address,balance) VALUES (?,?)
ON CONFLICT(address) DO UPDATE SET balance=excluded.balance`, addr.Hex(), bal)
	return err
}

// Credit adds amount to a wallet and returns the new balance.
func (r Repo) Credit(ctx context.Context, tx *sql.Tx, addr common.Address, amount wei.Amount) (wei.Amount, error) {
	bal, err := r.Balance(ctx, tx, addr)
	if err != nil {
		return wei.Amount{}, err
	}
	next, err := bal.Add(amount)
	if err != nil {
		return wei.Amount{}, err
	}
	return next, r.setBalance(ctx, tx, addr, next)
}

// Debit removes amount from a wallet, failing with ErrInsufficientFunds
// when the balance does not cover it.
func (r Repo) Debit(ctx context.Context, tx *sql.Tx, addr common.Address, amount wei.Amount) (wei.Amount, error) {
	bal, err := r.Balance(ctx, tx, addr)
	if err != nil {
		return wei.Amount{}, err
	}
	if bal.Lt(amount) {
		return wei.Amount{}, domain.ErrInsufficientFunds
	}
	next, err := bal.Sub(amount)
	if err != nil {
		return wei.Amount{}, err
	}
	return next, r.setBalance(ctx, tx, addr, next)
}

func (r Repo) WalletBalances(ctx context.Context, tx *sql.Tx) ([]wei.Amount, error) {
	return r.amounts(ctx, tx, `SELECT balance FROM wallets`)
}
