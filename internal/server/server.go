package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
	"bountyline/internal/wei"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
	// EnableFaucet exposes POST /wallets/{address}/fund.
	EnableFaucet bool
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_assigned"`
	Message string         `json:"message" example:"issue already assigned"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the {error:{code,message,details}} envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ledger API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Get("/docs", docsHandler(basePath))
	registerHealth(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerOrganizations(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerWallets(group, cfg.Engine, cfg.EnableFaucet)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	router.Get(path.Join(basePath, "openapi.json"), openAPIHandler(api, basePath))

	return router, nil
}

type loggerKey struct{}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger))
			next.ServeHTTP(rec, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func badRequest(msg string, details map[string]any) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", msg, details)
}

// handleError maps a ledger revert onto an HTTP status by its kind.
// Internal failures are logged; clients only see a generic message.
func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	code := domain.CodeOf(err)
	switch domain.KindOf(err) {
	case domain.KindAuthorization:
		return newAPIError(http.StatusForbidden, code, err.Error(), nil)
	case domain.KindConflict:
		return newAPIError(http.StatusConflict, code, err.Error(), nil)
	case domain.KindValidation:
		return newAPIError(http.StatusUnprocessableEntity, code, err.Error(), nil)
	case domain.KindFunds:
		return newAPIError(http.StatusPaymentRequired, code, err.Error(), nil)
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	default:
		loggerFrom(ctx).Error("request failed", "err", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPaymentRequired:
		return "insufficient_funds"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type healthOutput struct {
	Body struct {
		Status      string `json:"status" example:"ok"`
		NextIssueID uint64 `json:"next_issue_id"`
	}
}

// registerHealth also touches the database so a broken workspace reports unhealthy.
func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		next, err := e.NextIssueID(ctx)
		if err != nil {
			loggerFrom(ctx).Error("health check failed", "err", err)
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "ledger database unavailable", nil)
		}
		out := &healthOutput{}
		out.Body.Status = "ok"
		out.Body.NextIssueID = next
		return out, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ledger-info",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "Ledger constants and counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		next, err := e.NextIssueID(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		minStake, err := e.MinOrgStake()
		if err != nil {
			return nil, handleError(ctx, err)
		}
		easy, medium, hard, err := e.DeadlineDurations()
		if err != nil {
			return nil, handleError(ctx, err)
		}
		custody, err := e.CustodyReport(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: LedgerResponse{
			NextIssueID: next,
			MinOrgStake: minStake.String(),
			Durations:   DurationsResponse{Easy: easy, Medium: medium, Hard: hard},
			Custody: CustodyResponse{
				Wallets:        custody.Wallets.String(),
				Organizations:  custody.Organizations.String(),
				ActiveBonds:    custody.ActiveBonds.String(),
				PendingPayouts: custody.PendingPayouts.String(),
				Total:          custody.Total.String(),
			},
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events in id order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"organization,issue,payout,wallet"`
		EntityID   string `query:"entity_id"`
		Caller     string `query:"caller"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor" minimum:"0"`
	}) (*struct {
		Body PaginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		caller := ""
		if input.Caller != "" {
			addr, perr := parseAddress("caller", input.Caller)
			if perr != nil {
				return nil, perr
			}
			caller = addr.Hex()
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Caller:     caller,
			AfterID:    input.Cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := PaginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = items[limit-1].ID
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body PaginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an address",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		addr, perr := parseAddress("address", input.Body.Address)
		if perr != nil {
			return nil, perr
		}
		token, err := signDevToken(authCfg.JWTSecret, addr, authCfg.tokenTTL())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, Address: addr.Hex()}}, nil
	})
}

func parseAmount(field, raw string) (wei.Amount, huma.StatusError) {
	if strings.TrimSpace(raw) == "" {
		return wei.Amount{}, nil
	}
	a, err := wei.Parse(raw)
	if err != nil {
		return wei.Amount{}, badRequest(err.Error(), map[string]any{field: raw})
	}
	return a, nil
}

func parseAddress(field, raw string) (common.Address, huma.StatusError) {
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return common.Address{}, badRequest(err.Error(), map[string]any{field: raw})
	}
	return addr, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
