package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/events"
	"bountyline/internal/migrate"
	"bountyline/internal/wei"
)

const testSecret = "test-secret"

var (
	orgAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newLoggedTestServer(t, io.Discard)
}

func newLoggedTestServer(t *testing.T, logs io.Writer) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Logger = slog.New(slog.NewTextHandler(logs, nil))
	handler, err := New(Config{
		Engine:       e,
		BasePath:     "/v0",
		Auth:         AuthConfig{JWTSecret: testSecret},
		Logger:       e.Logger,
		EnableFaucet: true,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: e}
}

func (s *testServer) token(t *testing.T, addr common.Address) string {
	t.Helper()
	tok, err := signDevToken(testSecret, addr, 0)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func (s *testServer) expect(t *testing.T, status int, method, path, token string, body, out any) {
	t.Helper()
	res, data := s.do(t, method, path, token, body)
	if res.StatusCode != status {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, res.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
}

func (s *testServer) expectError(t *testing.T, status int, code, method, path, token string, body any) {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	s.expect(t, status, method, path, token, body, &env)
	if env.Error.Code != code {
		t.Fatalf("%s %s: expected code %q, got %+v", method, path, code, env.Error)
	}
}

func (s *testServer) fund(t *testing.T, addr common.Address, amount string) {
	t.Helper()
	s.expect(t, http.StatusOK, http.MethodPost, "/v0/wallets/"+addr.Hex()+"/fund", s.token(t, addr), FundRequest{Amount: amount}, nil)
}

func (s *testServer) setupIssue(t *testing.T) IssueResponse {
	t.Helper()
	orgTok := s.token(t, orgAddr)
	s.fund(t, orgAddr, "1ether")
	s.expect(t, http.StatusCreated, http.MethodPost, "/v0/orgs", orgTok, RegisterOrganizationRequest{
		RepoURL: "https://github.com/acme/contracts",
		Value:   "0.5ether",
	}, nil)
	var issue IssueResponse
	s.expect(t, http.StatusCreated, http.MethodPost, "/v0/issues", orgTok, CreateIssueRequest{
		GithubIssueURL: "https://github.com/acme/contracts/issues/7",
		Description:    "reentrancy in withdraw",
		Bounty:         "1000",
		Difficulty:     "medium",
	}, &issue)
	return issue
}

func TestBountyLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	issue := srv.setupIssue(t)
	if issue.ID != 1 || issue.Status != "open" {
		t.Fatalf("unexpected issue %+v", issue)
	}

	var org OrganizationResponse
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/orgs/"+orgAddr.Hex(), "", nil, &org)
	want, _ := wei.MustParse("0.5ether").Sub(wei.FromUint64(1000))
	if org.AvailableRewards != want.String() || org.TotalStaked != wei.MustParse("0.5ether").String() {
		t.Fatalf("unexpected org balances %+v", org)
	}

	aliceTok := srv.token(t, alice)
	srv.fund(t, alice, "100")
	var taken IssueResponse
	srv.expect(t, http.StatusOK, http.MethodPost, "/v0/issues/1/take", aliceTok, ValueRequest{Value: "100"}, &taken)
	if taken.Status != "assigned" || taken.AssignedTo != alice.Hex() || taken.Deadline == 0 {
		t.Fatalf("unexpected assignment %+v", taken)
	}

	var done CompleteIssueResponse
	srv.expect(t, http.StatusOK, http.MethodPost, "/v0/issues/1/complete", aliceTok, nil, &done)
	if done.Issue.Status != "completed" || done.Issue.Deadline != 0 {
		t.Fatalf("unexpected completion %+v", done.Issue)
	}
	if len(done.Payouts) != 2 {
		t.Fatalf("expected bounty and refund payouts, got %+v", done.Payouts)
	}

	var w WalletResponse
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/wallets/"+alice.Hex(), "", nil, &w)
	if w.Balance != "1100" {
		t.Fatalf("alice balance %s, want 1100", w.Balance)
	}

	var ids OrganizationIssuesResponse
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/orgs/"+orgAddr.Hex()+"/issues", "", nil, &ids)
	if diff := cmp.Diff([]uint64{1}, ids.IssueIDs); diff != "" {
		t.Fatalf("org issues (-want +got):\n%s", diff)
	}

	var ledger LedgerResponse
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/ledger", "", nil, &ledger)
	if ledger.NextIssueID != 2 || ledger.Durations.Easy != 7*24*3600 {
		t.Fatalf("unexpected ledger info %+v", ledger)
	}

	var page PaginatedEvents
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/events?type="+events.IssueCompleted, "", nil, &page)
	if len(page.Items) != 1 || page.Items[0].Payload["issueId"] == nil {
		t.Fatalf("unexpected events %+v", page.Items)
	}
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	srv := newTestServer(t)
	srv.setupIssue(t)
	aliceTok := srv.token(t, alice)
	bobTok := srv.token(t, bob)

	srv.expectError(t, http.StatusUnauthorized, "unauthorized", http.MethodPost, "/v0/issues/1/take", "", ValueRequest{Value: "100"})
	srv.expectError(t, http.StatusUnauthorized, "invalid_credentials", http.MethodPost, "/v0/issues/1/take", "garbage", ValueRequest{Value: "100"})
	srv.expectError(t, http.StatusPaymentRequired, "insufficient_funds", http.MethodPost, "/v0/issues/1/take", aliceTok, ValueRequest{Value: "100"})

	srv.fund(t, alice, "1000")
	srv.expectError(t, http.StatusUnprocessableEntity, "invalid_stake", http.MethodPost, "/v0/issues/1/take", aliceTok, ValueRequest{Value: "49"})
	srv.expectError(t, http.StatusUnprocessableEntity, "invalid_stake", http.MethodPost, "/v0/issues/1/take", aliceTok, ValueRequest{Value: "201"})
	srv.expect(t, http.StatusOK, http.MethodPost, "/v0/issues/1/take", aliceTok, ValueRequest{Value: "50"}, nil)

	srv.fund(t, bob, "1000")
	srv.expectError(t, http.StatusConflict, "already_assigned", http.MethodPost, "/v0/issues/1/take", bobTok, ValueRequest{Value: "100"})
	srv.expectError(t, http.StatusForbidden, "not_assignee", http.MethodPost, "/v0/issues/1/complete", bobTok, nil)
	srv.expectError(t, http.StatusForbidden, "not_owner", http.MethodPost, "/v0/issues/1/reject", bobTok, nil)
	srv.expectError(t, http.StatusConflict, "deadline_not_reached", http.MethodPost, "/v0/issues/1/expire", bobTok, nil)
	srv.expectError(t, http.StatusNotFound, "not_found", http.MethodGet, "/v0/issues/99", "", nil)
	srv.expectError(t, http.StatusBadRequest, "bad_request", http.MethodGet, "/v0/orgs/not-an-address", "", nil)
	srv.expectError(t, http.StatusConflict, "already_registered", http.MethodPost, "/v0/orgs", srv.token(t, orgAddr), RegisterOrganizationRequest{
		RepoURL: "https://github.com/acme/contracts",
		Value:   "0.1ether",
	})

	var rejected IssueResponse
	srv.expect(t, http.StatusOK, http.MethodPost, "/v0/issues/1/reject", srv.token(t, orgAddr), nil, &rejected)
	if rejected.Status != "open" {
		t.Fatalf("expected reopened issue, got %+v", rejected)
	}
	srv.expectError(t, http.StatusConflict, "already_attempted", http.MethodPost, "/v0/issues/1/take", aliceTok, ValueRequest{Value: "100"})
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t)
	_, plain, err := srv.engine.CreateAPIKey(context.Background(), orgAddr, "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if _, err := srv.engine.Fund(context.Background(), engine.Call{From: orgAddr}, orgAddr, wei.MustParse("1ether")); err != nil {
		t.Fatalf("fund: %v", err)
	}
	body, _ := json.Marshal(RegisterOrganizationRequest{RepoURL: "https://github.com/acme/x", Value: "0.1ether"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/orgs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", plain)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(res.Body)
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, data)
	}
	var org OrganizationResponse
	if err := json.NewDecoder(res.Body).Decode(&org); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if org.Owner != orgAddr.Hex() {
		t.Fatalf("registered as %s, want %s", org.Owner, orgAddr.Hex())
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv := newTestServer(t)
	var login DevLoginResponse
	srv.expect(t, http.StatusOK, http.MethodPost, "/v0/auth/dev/login", "", DevLoginRequest{Address: alice.Hex()}, &login)
	if login.Address != alice.Hex() || login.Token == "" {
		t.Fatalf("unexpected login %+v", login)
	}
	var w WalletResponse
	srv.expect(t, http.StatusOK, http.MethodPost, "/v0/wallets/"+alice.Hex()+"/fund", login.Token, FundRequest{Amount: "5"}, &w)
	if w.Balance != "5" {
		t.Fatalf("balance %s", w.Balance)
	}
}

func TestWebhookDispatcherAppliesFilter(t *testing.T) {
	srv := newTestServer(t)

	var (
		mu       sync.Mutex
		received []EventResponse
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt EventResponse
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Bountyline-Event") != evt.Type {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	}))
	defer sink.Close()

	d, err := NewWebhookDispatcher(srv.engine, []config.Webhook{
		{URL: sink.URL, Filter: `type == "IssueCreated" && payload.bounty == "1000"`},
	}, srv.engine.Logger)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	ctx := context.Background()
	srv.fund(t, bob, "1")
	// First pass pins the cursor after the existing events.
	d.dispatchAll(ctx)

	srv.setupIssue(t)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Type != events.IssueCreated {
		t.Fatalf("expected one IssueCreated delivery, got %+v", received)
	}
}

func TestWebhookFilterMustCompile(t *testing.T) {
	srv := newTestServer(t)
	if _, err := NewWebhookDispatcher(srv.engine, []config.Webhook{{URL: "http://x", Filter: "type +"}}, nil); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestOpenAPIDocumentMarksWritesSecured(t *testing.T) {
	srv := newTestServer(t)
	var health struct {
		Status      string `json:"status"`
		NextIssueID uint64 `json:"next_issue_id"`
	}
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/health", "", nil, &health)
	if health.Status != "ok" || health.NextIssueID != 1 {
		t.Fatalf("unexpected health %+v", health)
	}

	var doc struct {
		Paths map[string]map[string]struct {
			Security  []map[string][]string `json:"security"`
			Responses map[string]any        `json:"responses"`
		} `json:"paths"`
	}
	srv.expect(t, http.StatusOK, http.MethodGet, "/v0/openapi.json", "", nil, &doc)
	take := doc.Paths["/v0/issues/{id}/take"]["post"]
	if len(take.Security) != 2 {
		t.Fatalf("take should require auth, got %+v", take.Security)
	}
	if _, ok := take.Responses["default"]; !ok {
		t.Fatalf("take lacks default error response")
	}
	if login := doc.Paths["/v0/auth/dev/login"]["post"]; len(login.Security) != 0 {
		t.Fatalf("dev login should be open, got %+v", login.Security)
	}
	if get := doc.Paths["/v0/issues/{id}"]["get"]; len(get.Security) != 0 {
		t.Fatalf("reads should be public, got %+v", get.Security)
	}
}

func TestRegisterRejectsOutOfRangeDurations(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, orgAddr)
	srv.fund(t, orgAddr, "1ether")
	for _, req := range []RegisterOrganizationRequest{
		{RepoURL: "https://github.com/acme/vault", Value: "0.5ether", EasyDuration: math.MaxUint64},
		{RepoURL: "https://github.com/acme/vault", Value: "0.5ether", MediumDuration: math.MaxInt64},
	} {
		srv.expectError(t, http.StatusUnprocessableEntity, "invalid_duration", http.MethodPost, "/v0/orgs", tok, req)
	}
	srv.expectError(t, http.StatusUnprocessableEntity, "invalid_amount", http.MethodPost, "/v0/orgs/credits", tok, ValueRequest{Value: "0"})
}

func TestInternalErrorsAreLoggedNotEchoed(t *testing.T) {
	var logs bytes.Buffer
	srv := newLoggedTestServer(t, &logs)
	srv.engine.DB.Close()

	res, body := srv.do(t, http.MethodGet, "/v0/issues/1", "", nil)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", res.StatusCode, body)
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	want := apiErrorBody{Code: "internal_error", Message: "internal error"}
	if diff := cmp.Diff(want, env.Error); diff != "" {
		t.Fatalf("error envelope (-want +got):\n%s", diff)
	}
	if !strings.Contains(logs.String(), "database is closed") {
		t.Fatalf("cause not logged: %s", logs.String())
	}
}
