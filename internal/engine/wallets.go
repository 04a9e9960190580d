package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/wei"
)

// Fund mints amount into addr's wallet. It is the only call that changes
// total custody and exists for local development.
func (e Engine) Fund(ctx context.Context, call Call, addr common.Address, amount wei.Amount) (domain.Wallet, error) {
	if err := requireNonPayable(call); err != nil {
		return domain.Wallet{}, err
	}
	if amount.IsZero() {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wallet{}, err
	}
	defer tx.Rollback()

	bal, err := e.Repo.Credit(ctx, tx, addr, amount)
	if err != nil {
		return domain.Wallet{}, checkArithmetic(err)
	}
	if _, err := e.Events.Append(ctx, tx, events.WalletFunded, events.EntityWallet, addr.Hex(), call.From.Hex(), events.EventPayload{
		"address":    addr.Hex(),
		"amount":     amount.String(),
		"newBalance": bal.String(),
	}); err != nil {
		return domain.Wallet{}, err
	}
	if err := e.commit(tx, "fund wallet"); err != nil {
		return domain.Wallet{}, err
	}
	return domain.Wallet{Address: addr, Balance: bal}, nil
}

func (e Engine) Balance(ctx context.Context, addr common.Address) (domain.Wallet, error) {
	bal, err := e.Repo.Balance(ctx, nil, addr)
	if err != nil {
		return domain.Wallet{}, err
	}
	return domain.Wallet{Address: addr, Balance: bal}, nil
}
