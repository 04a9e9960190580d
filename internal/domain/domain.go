package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/wei"
)

type Difficulty uint8

const (
	DifficultyEasy Difficulty = iota
	DifficultyMedium
	DifficultyHard
)

func (d Difficulty) Valid() bool { return d <= DifficultyHard }

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "easy"
	case DifficultyMedium:
		return "medium"
	case DifficultyHard:
		return "hard"
	}
	return fmt.Sprintf("difficulty(%d)", uint8(d))
}

// ParseDifficulty accepts the names easy/medium/hard or their ABI ordinals 0-2.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "0":
		return DifficultyEasy, nil
	case "medium", "1":
		return DifficultyMedium, nil
	case "hard", "2":
		return DifficultyHard, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
}

func (d Difficulty) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, ErrInvalidDifficulty
	}
	return []byte(d.String()), nil
}

func (d *Difficulty) UnmarshalText(text []byte) error {
	parsed, err := ParseDifficulty(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseAddress validates a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

type Organization struct {
	Address          common.Address `json:"address"`
	Owner            common.Address `json:"owner"`
	RepoURL          string         `json:"repo_url"`
	TotalStaked      wei.Amount     `json:"total_staked"`
	AvailableRewards wei.Amount     `json:"available_rewards"`
	AICredits        wei.Amount     `json:"ai_credits"`
	IsActive         bool           `json:"is_active"`
	EasyDuration     uint64         `json:"easy_duration"`
	MediumDuration   uint64         `json:"medium_duration"`
	HardDuration     uint64         `json:"hard_duration"`
	CreatedAt        string         `json:"created_at,omitempty"`
}

// MaxDuration caps an assignment window at ten years, in seconds.
const MaxDuration uint64 = 10 * 365 * 24 * 60 * 60

// ValidDuration reports whether d is a usable assignment window.
func ValidDuration(d uint64) bool { return d > 0 && d <= MaxDuration }

// Duration returns the assignment window in seconds for a difficulty.
func (o Organization) Duration(d Difficulty) uint64 {
	switch d {
	case DifficultyMedium:
		return o.MediumDuration
	case DifficultyHard:
		return o.HardDuration
	default:
		return o.EasyDuration
	}
}

const (
	IssueOpen      = "open"
	IssueAssigned  = "assigned"
	IssueCompleted = "completed"
)

type Issue struct {
	ID             uint64         `json:"id"`
	Org            common.Address `json:"org"`
	GithubIssueURL string         `json:"github_issue_url"`
	Description    string         `json:"description"`
	Bounty         wei.Amount     `json:"bounty"`
	Difficulty     Difficulty     `json:"difficulty"`
	AssignedTo     common.Address `json:"assigned_to"`
	Stake          wei.Amount     `json:"stake"`
	IsAssigned     bool           `json:"is_assigned"`
	IsCompleted    bool           `json:"is_completed"`
	CreatedAt      int64          `json:"created_at"`
	Deadline       int64          `json:"deadline"`
}

func (i Issue) Status() string {
	switch {
	case i.IsCompleted:
		return IssueCompleted
	case i.IsAssigned:
		return IssueAssigned
	default:
		return IssueOpen
	}
}

const (
	AttemptActive    = "active"
	AttemptCompleted = "completed"
	AttemptExpired   = "expired"
	AttemptRejected  = "rejected"
)

// Attempt records that a contributor once staked on an issue. Rows are never
// deleted, which is what blocks a second take by the same address.
type Attempt struct {
	IssueID     uint64         `json:"issue_id"`
	Contributor common.Address `json:"contributor"`
	Stake       wei.Amount     `json:"stake"`
	Outcome     string         `json:"outcome" enum:"active,completed,expired,rejected"`
	TakenAt     int64          `json:"taken_at"`
	ResolvedAt  *int64         `json:"resolved_at,omitempty"`
}

const (
	PayoutBounty      = "bounty"
	PayoutStakeRefund = "stake_refund"

	PayoutPending = "pending"
	PayoutSettled = "settled"
)

type Payout struct {
	ID        string         `json:"id"`
	IssueID   uint64         `json:"issue_id"`
	Recipient common.Address `json:"recipient"`
	Amount    wei.Amount     `json:"amount"`
	Kind      string         `json:"kind" enum:"bounty,stake_refund"`
	Status    string         `json:"status" enum:"pending,settled"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	SettledAt *string        `json:"settled_at,omitempty" format:"date-time"`
}

type Wallet struct {
	Address common.Address `json:"address"`
	Balance wei.Amount     `json:"balance"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Caller     string `json:"caller"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// IssueKey renders an issue id as an event entity id.
func IssueKey(id uint64) string { return strconv.FormatUint(id, 10) }
