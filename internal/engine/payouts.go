package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/repo"
)

// Payer delivers a payout. The transaction is the one that marks the payout
// settled; payers that move funds outside the ledger may ignore it.
type Payer interface {
	Pay(ctx context.Context, tx *sql.Tx, p domain.Payout) error
}

// WalletPayer credits the recipient's ledger wallet.
type WalletPayer struct {
	Repo repo.Repo
}

func (w WalletPayer) Pay(ctx context.Context, tx *sql.Tx, p domain.Payout) error {
	_, err := w.Repo.Credit(ctx, tx, p.Recipient, p.Amount)
	return err
}

// SettlePayout delivers one pending payout. A payout already settled by
// someone else is returned unchanged.
func (e Engine) SettlePayout(ctx context.Context, id string) (domain.Payout, error) {
	if e.Payer == nil {
		return domain.Payout{}, errors.New("no payer configured")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payout{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPayout(ctx, tx, id)
	if err != nil {
		return domain.Payout{}, fmt.Errorf("payout %s: %w", id, err)
	}
	if p.Status == domain.PayoutSettled {
		return p, nil
	}
	at := e.now().UTC().Format(timeLayout)
	if err := e.Payer.Pay(ctx, tx, p); err != nil {
		tx.Rollback()
		if rerr := e.Repo.RecordPayoutFailure(ctx, id, err.Error()); rerr != nil {
			e.log().Error("record payout failure", "payout", id, "err", rerr)
		}
		return domain.Payout{}, fmt.Errorf("pay %s: %w", id, err)
	}
	ok, err := e.Repo.MarkPayoutSettled(ctx, tx, id, at)
	if err != nil {
		return domain.Payout{}, err
	}
	if !ok {
		return e.Repo.GetPayout(ctx, nil, id)
	}
	if _, err := e.Events.Append(ctx, tx, events.PayoutSettled, events.EntityPayout, id, p.Recipient.Hex(), events.EventPayload{
		"payoutId":  id,
		"issueId":   p.IssueID,
		"recipient": p.Recipient.Hex(),
		"amount":    p.Amount.String(),
		"kind":      p.Kind,
	}); err != nil {
		return domain.Payout{}, err
	}
	if err := e.commit(tx, "settle payout"); err != nil {
		return domain.Payout{}, err
	}
	p.Status = domain.PayoutSettled
	p.SettledAt = &at
	p.Attempts++
	p.LastError = ""
	return p, nil
}

// SettlePending retries up to limit pending payouts and reports how many settled.
func (e Engine) SettlePending(ctx context.Context, limit int) (int, error) {
	pending, err := e.Repo.ListPayouts(ctx, repo.PayoutFilters{Status: domain.PayoutPending, Limit: limit})
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if _, err := e.SettlePayout(ctx, p.ID); err != nil {
			e.log().Warn("payout retry failed", "payout", p.ID, "attempts", p.Attempts+1, "err", err)
			continue
		}
		settled++
	}
	return settled, nil
}

func (e Engine) ListPayouts(ctx context.Context, f repo.PayoutFilters) ([]domain.Payout, error) {
	return e.Repo.ListPayouts(ctx, f)
}

// PayoutDispatcher periodically settles payouts left pending by failed transfers.
type PayoutDispatcher struct {
	Engine   Engine
	Interval time.Duration
	Batch    int
}

func (d PayoutDispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := d.Engine.log().With("component", "payouts")
	log.Info("payout dispatcher started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("payout dispatcher stopped")
			return
		case <-ticker.C:
			n, err := d.Engine.SettlePending(ctx, d.Batch)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("settle pending payouts", "err", err)
				continue
			}
			if n > 0 {
				log.Info("settled payouts", "count", n)
			}
		}
	}
}
