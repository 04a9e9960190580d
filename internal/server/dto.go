package server

import (
	"encoding/json"

	"bountyline/internal/domain"
)

// Request payloads. Amounts are decimal wei, optionally with a unit suffix
// such as "0.5ether".

type RegisterOrganizationRequest struct {
	RepoURL        string `json:"repo_url"`
	Value          string `json:"value" example:"0.01ether"`
	EasyDuration   uint64 `json:"easy_duration,omitempty" doc:"seconds; 0 uses the ledger default"`
	MediumDuration uint64 `json:"medium_duration,omitempty"`
	HardDuration   uint64 `json:"hard_duration,omitempty"`
}

type ValueRequest struct {
	Value string `json:"value" example:"1000gwei"`
}

type CreateIssueRequest struct {
	GithubIssueURL string `json:"github_issue_url"`
	Description    string `json:"description,omitempty"`
	Bounty         string `json:"bounty"`
	Difficulty     string `json:"difficulty" doc:"easy, medium, hard or 0-2"`
	Org            string `json:"org,omitempty" doc:"defaults to the caller"`
}

type FundRequest struct {
	Amount string `json:"amount"`
}

type DevLoginRequest struct {
	Address string `json:"address"`
}

type DevLoginResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// Responses

type OrganizationResponse struct {
	Address          string `json:"address"`
	Owner            string `json:"owner"`
	RepoURL          string `json:"repo_url"`
	TotalStaked      string `json:"total_staked"`
	AvailableRewards string `json:"available_rewards"`
	AICredits        string `json:"ai_credits"`
	IsActive         bool   `json:"is_active"`
	EasyDuration     uint64 `json:"easy_duration"`
	MediumDuration   uint64 `json:"medium_duration"`
	HardDuration     uint64 `json:"hard_duration"`
}

type IssueResponse struct {
	ID             uint64 `json:"id"`
	Org            string `json:"org"`
	GithubIssueURL string `json:"github_issue_url"`
	Description    string `json:"description"`
	Bounty         string `json:"bounty"`
	Difficulty     string `json:"difficulty"`
	Status         string `json:"status" enum:"open,assigned,completed"`
	AssignedTo     string `json:"assigned_to,omitempty"`
	Stake          string `json:"stake"`
	IsAssigned     bool   `json:"is_assigned"`
	IsCompleted    bool   `json:"is_completed"`
	CreatedAt      int64  `json:"created_at"`
	Deadline       int64  `json:"deadline"`
}

type PayoutResponse struct {
	ID        string `json:"id"`
	IssueID   uint64 `json:"issue_id"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
}

type CompleteIssueResponse struct {
	Issue   IssueResponse    `json:"issue"`
	Payouts []PayoutResponse `json:"payouts"`
}

type PaginatedIssues struct {
	Items      []IssueResponse `json:"items"`
	NextCursor uint64          `json:"next_cursor,omitempty"`
}

type OrganizationIssuesResponse struct {
	Org      string   `json:"org"`
	IssueIDs []uint64 `json:"issue_ids"`
}

type WalletResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type DurationsResponse struct {
	Easy   uint64 `json:"easy"`
	Medium uint64 `json:"medium"`
	Hard   uint64 `json:"hard"`
}

type CustodyResponse struct {
	Wallets        string `json:"wallets"`
	Organizations  string `json:"organizations"`
	ActiveBonds    string `json:"active_bonds"`
	PendingPayouts string `json:"pending_payouts"`
	Total          string `json:"total"`
}

type LedgerResponse struct {
	NextIssueID uint64            `json:"next_issue_id"`
	MinOrgStake string            `json:"min_org_stake"`
	Durations   DurationsResponse `json:"durations"`
	Custody     CustodyResponse   `json:"custody"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Caller     string         `json:"caller"`
	Payload    map[string]any `json:"payload"`
}

type PaginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

func organizationResponse(o domain.Organization) OrganizationResponse {
	return OrganizationResponse{
		Address:          o.Address.Hex(),
		Owner:            o.Owner.Hex(),
		RepoURL:          o.RepoURL,
		TotalStaked:      o.TotalStaked.String(),
		AvailableRewards: o.AvailableRewards.String(),
		AICredits:        o.AICredits.String(),
		IsActive:         o.IsActive,
		EasyDuration:     o.EasyDuration,
		MediumDuration:   o.MediumDuration,
		HardDuration:     o.HardDuration,
	}
}

func issueResponse(i domain.Issue) IssueResponse {
	res := IssueResponse{
		ID:             i.ID,
		Org:            i.Org.Hex(),
		GithubIssueURL: i.GithubIssueURL,
		Description:    i.Description,
		Bounty:         i.Bounty.String(),
		Difficulty:     i.Difficulty.String(),
		Status:         i.Status(),
		Stake:          i.Stake.String(),
		IsAssigned:     i.IsAssigned,
		IsCompleted:    i.IsCompleted,
		CreatedAt:      i.CreatedAt,
		Deadline:       i.Deadline,
	}
	if i.IsAssigned {
		res.AssignedTo = i.AssignedTo.Hex()
	}
	return res
}

func payoutResponse(p domain.Payout) PayoutResponse {
	return PayoutResponse{
		ID:        p.ID,
		IssueID:   p.IssueID,
		Recipient: p.Recipient.Hex(),
		Amount:    p.Amount.String(),
		Kind:      p.Kind,
		Status:    p.Status,
	}
}

func walletResponse(w domain.Wallet) WalletResponse {
	return WalletResponse{Address: w.Address.Hex(), Balance: w.Balance.String()}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Caller:     e.Caller,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func mapIssues(items []domain.Issue) []IssueResponse {
	res := make([]IssueResponse, 0, len(items))
	for _, i := range items {
		res = append(res, issueResponse(i))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
