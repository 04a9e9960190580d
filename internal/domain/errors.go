package domain

import (
	"errors"

	"bountyline/internal/wei"
)

// Kind groups ledger failures by how a caller should react to them.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindValidation    Kind = "validation"
	KindFunds         Kind = "funds"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// LedgerError is a revert reason. Every call that returns one left the
// ledger untouched.
type LedgerError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *LedgerError) Error() string { return e.Message }

func newErr(kind Kind, code, msg string) *LedgerError {
	return &LedgerError{Kind: kind, Code: code, Message: msg}
}

var (
	ErrNotFound = newErr(KindNotFound, "not_found", "not found")

	ErrUnauthorized = newErr(KindAuthorization, "unauthorized", "caller not authorized for organization")
	ErrNotAssignee  = newErr(KindAuthorization, "not_assignee", "caller is not the assignee")
	ErrNotOwner     = newErr(KindAuthorization, "not_owner", "caller is not the organization owner")

	ErrAlreadyRegistered  = newErr(KindConflict, "already_registered", "organization already registered")
	ErrAlreadyAssigned    = newErr(KindConflict, "already_assigned", "issue already assigned")
	ErrAlreadyCompleted   = newErr(KindConflict, "already_completed", "issue already completed")
	ErrNotAssigned        = newErr(KindConflict, "not_assigned", "issue not assigned")
	ErrAlreadyAttempted   = newErr(KindConflict, "already_attempted", "caller already attempted this issue")
	ErrDeadlineNotReached = newErr(KindConflict, "deadline_not_reached", "assignment deadline has not passed")

	ErrEmptyRepoURL        = newErr(KindValidation, "empty_repo_url", "repo url required")
	ErrNotRegistered       = newErr(KindValidation, "not_registered", "organization not registered")
	ErrInvalidBounty       = newErr(KindValidation, "invalid_bounty", "bounty must be greater than zero")
	ErrInsufficientRewards = newErr(KindValidation, "insufficient_rewards", "insufficient available rewards")
	ErrInvalidStake        = newErr(KindValidation, "invalid_stake", "invalid stake amount")
	ErrInvalidDifficulty   = newErr(KindValidation, "invalid_difficulty", "invalid difficulty")
	ErrNonPayable          = newErr(KindValidation, "non_payable", "call does not accept value")
	ErrEmptyIssueURL       = newErr(KindValidation, "empty_issue_url", "github issue url required")
	ErrInvalidAmount       = newErr(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrInvalidDuration     = newErr(KindValidation, "invalid_duration", "assignment duration out of range")

	ErrInsufficientStake = newErr(KindFunds, "insufficient_stake", "stake below minimum organization stake")
	ErrInsufficientFunds = newErr(KindFunds, "insufficient_funds", "insufficient wallet balance")
	ErrOverflow          = newErr(KindFunds, "overflow", "arithmetic overflow")

	ErrInvariant = newErr(KindInternal, "invariant_violation", "escrow invariant violated")
)

// KindOf classifies err. Arithmetic failures from the wei package count as
// funds errors; anything unrecognised is internal.
func KindOf(err error) Kind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, wei.ErrOverflow) || errors.Is(err, wei.ErrUnderflow) {
		return KindFunds
	}
	return KindInternal
}

// CodeOf returns the stable machine-readable code for err.
func CodeOf(err error) string {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	if errors.Is(err, wei.ErrOverflow) || errors.Is(err, wei.ErrUnderflow) {
		return ErrOverflow.Code
	}
	return "internal_error"
}
