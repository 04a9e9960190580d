package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusPaymentRequired,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

// payableCall builds the engine call for the authenticated caller with an
// optional attached value.
func payableCall(ctx context.Context, value string) (engine.Call, huma.StatusError) {
	from, authErr := callerFromContext(ctx)
	if authErr != nil {
		return engine.Call{}, authErr
	}
	amount, perr := parseAmount("value", value)
	if perr != nil {
		return engine.Call{}, perr
	}
	return engine.Call{From: from, Value: amount}, nil
}

func registerOrganizations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-organization",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Register the caller as an organization and stake value",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterOrganizationRequest `json:"body"`
	}) (*struct {
		Body OrganizationResponse `json:"body"`
	}, error) {
		call, herr := payableCall(ctx, input.Body.Value)
		if herr != nil {
			return nil, herr
		}
		org, err := e.RegisterOrganization(ctx, call, engine.RegistrationOptions{
			RepoURL:        input.Body.RepoURL,
			EasyDuration:   input.Body.EasyDuration,
			MediumDuration: input.Body.MediumDuration,
			HardDuration:   input.Body.HardDuration,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body OrganizationResponse `json:"body"`
		}{Body: organizationResponse(org)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-ai-credits",
		Method:      http.MethodPost,
		Path:        "/orgs/credits",
		Summary:     "Add AI credits to the caller's organization",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ValueRequest `json:"body"`
	}) (*struct {
		Body OrganizationResponse `json:"body"`
	}, error) {
		call, herr := payableCall(ctx, input.Body.Value)
		if herr != nil {
			return nil, herr
		}
		org, err := e.AddAICredits(ctx, call)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body OrganizationResponse `json:"body"`
		}{Body: organizationResponse(org)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-organization",
		Method:      http.MethodGet,
		Path:        "/orgs/{address}",
		Summary:     "Organization record; unknown addresses read as inactive",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body OrganizationResponse `json:"body"`
	}, error) {
		addr, perr := parseAddress("address", input.Address)
		if perr != nil {
			return nil, perr
		}
		org, err := e.GetOrganizationInfo(ctx, addr)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body OrganizationResponse `json:"body"`
		}{Body: organizationResponse(org)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "organization-issues",
		Method:      http.MethodGet,
		Path:        "/orgs/{address}/issues",
		Summary:     "Issue ids created by an organization",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body OrganizationIssuesResponse `json:"body"`
	}, error) {
		addr, perr := parseAddress("address", input.Address)
		if perr != nil {
			return nil, perr
		}
		ids, err := e.GetOrganizationIssues(ctx, addr)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body OrganizationIssuesResponse `json:"body"`
		}{Body: OrganizationIssuesResponse{Org: addr.Hex(), IssueIDs: nonNilSlice(ids)}}, nil
	})
}

type issuePath struct {
	ID uint64 `path:"id"`
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create an issue and reserve its bounty",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		call, herr := payableCall(ctx, "")
		if herr != nil {
			return nil, herr
		}
		bounty, perr := parseAmount("bounty", input.Body.Bounty)
		if perr != nil {
			return nil, perr
		}
		difficulty, err := domain.ParseDifficulty(input.Body.Difficulty)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		org := call.From
		if input.Body.Org != "" {
			if org, perr = parseAddress("org", input.Body.Org); perr != nil {
				return nil, perr
			}
		}
		issue, err := e.CreateIssue(ctx, call, engine.IssueCreateOptions{
			GithubIssueURL: input.Body.GithubIssueURL,
			Description:    input.Body.Description,
			Bounty:         bounty,
			Difficulty:     difficulty,
			Org:            org,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "Marketplace listing in id order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Org      string `query:"org"`
		Assignee string `query:"assignee"`
		Status   string `query:"status" enum:"open,assigned,completed"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   uint64 `query:"cursor"`
	}) (*struct {
		Body PaginatedIssues `json:"body"`
	}, error) {
		f := repo.IssueFilters{Status: input.Status, Limit: normalizeLimit(input.Limit), AfterID: input.Cursor}
		if input.Org != "" {
			addr, perr := parseAddress("org", input.Org)
			if perr != nil {
				return nil, perr
			}
			f.Org = &addr
		}
		if input.Assignee != "" {
			addr, perr := parseAddress("assignee", input.Assignee)
			if perr != nil {
				return nil, perr
			}
			f.Assignee = &addr
		}
		page, err := e.ListIssues(ctx, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body PaginatedIssues `json:"body"`
		}{Body: PaginatedIssues{Items: mapIssues(page.Issues), NextCursor: page.NextCursor}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		issue, err := e.GetIssueInfo(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "take-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/take",
		Summary:     "Bond value and take an open issue",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   uint64       `path:"id"`
		Body ValueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		call, herr := payableCall(ctx, input.Body.Value)
		if herr != nil {
			return nil, herr
		}
		issue, err := e.TakeIssue(ctx, call, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/complete",
		Summary:     "Complete an assigned issue and pay the assignee",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body CompleteIssueResponse `json:"body"`
	}, error) {
		call, herr := payableCall(ctx, "")
		if herr != nil {
			return nil, herr
		}
		issue, payouts, err := e.CompleteIssue(ctx, call, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := CompleteIssueResponse{Issue: issueResponse(issue), Payouts: []PayoutResponse{}}
		for _, p := range payouts {
			resp.Payouts = append(resp.Payouts, payoutResponse(p))
		}
		return &struct {
			Body CompleteIssueResponse `json:"body"`
		}{Body: resp}, nil
	})

	reopen := func(id, path, summary string, fn func(context.Context, engine.Call, uint64) (domain.Issue, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *issuePath) (*struct {
			Body IssueResponse `json:"body"`
		}, error) {
			call, herr := payableCall(ctx, "")
			if herr != nil {
				return nil, herr
			}
			issue, err := fn(ctx, call, input.ID)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			return &struct {
				Body IssueResponse `json:"body"`
			}{Body: issueResponse(issue)}, nil
		})
	}
	reopen("expire-assignment", "/issues/{id}/expire", "Reopen an issue whose deadline passed; the bond is forfeited", e.ExpireAssignment)
	reopen("reject-assignment", "/issues/{id}/reject", "Owner reopens an assigned issue; the bond is refunded", e.RejectAssignment)
}

func registerWallets(api huma.API, e engine.Engine, faucet bool) {
	huma.Register(api, huma.Operation{
		OperationID: "get-wallet",
		Method:      http.MethodGet,
		Path:        "/wallets/{address}",
		Summary:     "Wallet balance",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body WalletResponse `json:"body"`
	}, error) {
		addr, perr := parseAddress("address", input.Address)
		if perr != nil {
			return nil, perr
		}
		w, err := e.Balance(ctx, addr)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body WalletResponse `json:"body"`
		}{Body: walletResponse(w)}, nil
	})

	if !faucet {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "fund-wallet",
		Method:      http.MethodPost,
		Path:        "/wallets/{address}/fund",
		Summary:     "DEV ONLY: mint funds into a wallet",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Address string      `path:"address"`
		Body    FundRequest `json:"body"`
	}) (*struct {
		Body WalletResponse `json:"body"`
	}, error) {
		call, herr := payableCall(ctx, "")
		if herr != nil {
			return nil, herr
		}
		addr, perr := parseAddress("address", input.Address)
		if perr != nil {
			return nil, perr
		}
		amount, perr := parseAmount("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		w, err := e.Fund(ctx, call, addr, amount)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body WalletResponse `json:"body"`
		}{Body: walletResponse(w)}, nil
	})
}
