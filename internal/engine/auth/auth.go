package auth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

// ForbiddenError reports a caller lacking the right to perform Action.
// It unwraps to the matching domain sentinel.
type ForbiddenError struct {
	Caller common.Address
	Action string
	Err    error
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %s may not %s", e.Err, e.Caller.Hex(), e.Action)
}

func (e ForbiddenError) Unwrap() error { return e.Err }

// Service decides who may act on organizations and issues.
type Service struct {
	Config *config.Config
}

// IsVerifiedAgent reports whether caller is an AI agent trusted to post
// issues for any organization.
func (s Service) IsVerifiedAgent(caller common.Address) bool {
	return s.Config != nil && s.Config.IsVerifiedAgent(caller)
}

// CanCreateIssue allows the organization itself or a verified agent.
func (s Service) CanCreateIssue(org common.Address, caller common.Address) error {
	if caller == org || s.IsVerifiedAgent(caller) {
		return nil
	}
	return ForbiddenError{Caller: caller, Action: "create issues for " + org.Hex(), Err: domain.ErrUnauthorized}
}

// RequireOwner allows only the account that registered the organization.
func (s Service) RequireOwner(org domain.Organization, caller common.Address) error {
	if caller == org.Owner {
		return nil
	}
	return ForbiddenError{Caller: caller, Action: "manage assignments of " + org.Address.Hex(), Err: domain.ErrNotOwner}
}

// RequireAssignee allows only the contributor currently holding the issue.
func (s Service) RequireAssignee(issue domain.Issue, caller common.Address) error {
	if issue.IsAssigned && caller == issue.AssignedTo {
		return nil
	}
	return ForbiddenError{Caller: caller, Action: fmt.Sprintf("complete issue %d", issue.ID), Err: domain.ErrNotAssignee}
}
