package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountyline/internal/analysis"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/tracker"
	"bountyline/internal/wei"
)

var orgAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func openTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	e, conn, err := OpenEngine(context.Background(), Options{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return e
}

func scorer(t *testing.T, difficulty string) *analysis.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"success":true,"synthesized_analysis":{"title":"Unchecked transfer return","body":"ERC20 transfer result ignored.","difficulty":%q,"labels":["security"],"acceptance_criteria":["use SafeERC20"]}}`, difficulty)
	}))
	t.Cleanup(srv.Close)
	return analysis.New(srv.URL, time.Second)
}

type githubStub struct {
	srv    *httptest.Server
	bodies []map[string]any
}

func newGithubStub(t *testing.T) (*githubStub, *tracker.Client) {
	t.Helper()
	stub := &githubStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		stub.bodies = append(stub.bodies, body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":12,"title":"Unchecked transfer return","html_url":"https://github.com/acme/vault/issues/12","state":"open"}`)
	}))
	t.Cleanup(stub.srv.Close)
	c, err := tracker.NewClient("tok").WithBaseURL(stub.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return stub, c
}

func registerOrg(t *testing.T, e engine.Engine, stake string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.Fund(ctx, engine.Call{From: orgAddr}, orgAddr, wei.MustParse(stake)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := e.RegisterOrganization(ctx, engine.Call{From: orgAddr, Value: wei.MustParse(stake)}, engine.RegistrationOptions{RepoURL: "https://github.com/acme/vault"}); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestPublishUsesDefaultBountyForDifficulty(t *testing.T) {
	e := openTestEngine(t)
	registerOrg(t, e, "1ether")
	stub, gh := newGithubStub(t)

	res, err := Publish(context.Background(), e, engine.Call{From: orgAddr}, scorer(t, "Hard"), gh, PublishOptions{RepoURL: "https://github.com/acme/vault"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Issue.ID != 1 || res.Issue.GithubIssueURL != "https://github.com/acme/vault/issues/12" {
		t.Fatalf("unexpected ledger issue %+v", res.Issue)
	}
	if res.Issue.Difficulty != domain.DifficultyHard || !res.Issue.Bounty.Eq(e.Config.DefaultBounty(domain.DifficultyHard)) {
		t.Fatalf("unexpected bounty/difficulty %+v", res.Issue)
	}
	if len(stub.bodies) != 1 || !strings.Contains(stub.bodies[0]["body"].(string), "SafeERC20") {
		t.Fatalf("unexpected github request %+v", stub.bodies)
	}
}

func TestPublishChecksRewardsBeforeOpeningGithubIssue(t *testing.T) {
	e := openTestEngine(t)
	registerOrg(t, e, "0.00001ether")
	stub, gh := newGithubStub(t)
	big := wei.MustParse("1ether")

	_, err := Publish(context.Background(), e, engine.Call{From: orgAddr}, scorer(t, "Easy"), gh, PublishOptions{RepoURL: "https://github.com/acme/vault", Bounty: &big})
	if !errors.Is(err, domain.ErrInsufficientRewards) {
		t.Fatalf("expected insufficient rewards, got %v", err)
	}
	if len(stub.bodies) != 0 {
		t.Fatalf("github issue opened despite rejection")
	}
}

func TestPublishDryRunLeavesNoTrace(t *testing.T) {
	e := openTestEngine(t)
	registerOrg(t, e, "1ether")
	stub, gh := newGithubStub(t)
	res, err := Publish(context.Background(), e, engine.Call{From: orgAddr}, scorer(t, "Medium"), gh, PublishOptions{RepoURL: "https://github.com/acme/vault", DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if res.Issue.ID != 0 || len(stub.bodies) != 0 {
		t.Fatalf("dry run created state: %+v", res)
	}
	next, _ := e.NextIssueID(context.Background())
	if next != 1 {
		t.Fatalf("next issue id moved to %d", next)
	}
}
