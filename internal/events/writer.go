package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Contract event names.
const (
	OrganizationRegistered = "OrganizationRegistered"
	IssueCreated           = "IssueCreated"
	IssueAssigned          = "IssueAssigned"
	IssueCompleted         = "IssueCompleted"
	AICreditsAdded         = "AICreditsAdded"
	IssueReopened          = "IssueReopened"
	StakeForfeited         = "StakeForfeited"
	StakeRefunded          = "StakeRefunded"
	PayoutSettled          = "PayoutSettled"
	WalletFunded           = "WalletFunded"
)

const (
	EntityOrganization = "organization"
	EntityIssue        = "issue"
	EntityPayout       = "payout"
	EntityWallet       = "wallet"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx so it commits or reverts with the state
// change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, caller string, payload EventPayload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,caller,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), caller, string(data))
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", evtType, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
