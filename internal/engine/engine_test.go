package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/wei"
)

var (
	orgAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	otherOrg    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	agent       = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	faucet      = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	startOfTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Agents.Verified = []string{agent.Hex()}
	eng := engine.New(conn, cfg)
	clock := startOfTime
	eng.Now = func() time.Time { return clock }
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	if err := eng.ImportConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, clock: &clock}
}

func (env testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func (env testEnv) fund(t *testing.T, addr common.Address, amount string) {
	t.Helper()
	if _, err := env.Engine.Fund(env.Ctx, engine.Call{From: faucet}, addr, wei.MustParse(amount)); err != nil {
		t.Fatalf("fund %s: %v", addr.Hex(), err)
	}
}

func (env testEnv) balance(t *testing.T, addr common.Address) wei.Amount {
	t.Helper()
	w, err := env.Engine.Balance(env.Ctx, addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return w.Balance
}

func (env testEnv) register(t *testing.T, addr common.Address, stake string) domain.Organization {
	t.Helper()
	env.fund(t, addr, stake)
	org, err := env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: addr, Value: wei.MustParse(stake)}, engine.RegistrationOptions{RepoURL: "https://github.com/a/b"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return org
}

func (env testEnv) createIssue(t *testing.T, org common.Address, bounty string, d domain.Difficulty) domain.Issue {
	t.Helper()
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.Call{From: org}, engine.IssueCreateOptions{
		GithubIssueURL: "https://github.com/a/b/issues/1",
		Description:    "audit",
		Bounty:         wei.MustParse(bounty),
		Difficulty:     d,
		Org:            org,
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return issue
}

func (env testEnv) take(t *testing.T, who common.Address, id uint64, stake string) domain.Issue {
	t.Helper()
	env.fund(t, who, stake)
	issue, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: who, Value: wei.MustParse(stake)}, id)
	if err != nil {
		t.Fatalf("take issue: %v", err)
	}
	return issue
}

func (env testEnv) custody(t *testing.T) engine.Custody {
	t.Helper()
	c, err := env.Engine.CustodyReport(env.Ctx)
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	return c
}

func TestRegisterOrganization(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, orgAddr, "2ether")

	_, err := env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("999999wei")}, engine.RegistrationOptions{RepoURL: "https://github.com/a/b"})
	if !errors.Is(err, domain.ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
	_, err = env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("1ether")}, engine.RegistrationOptions{RepoURL: "  "})
	if !errors.Is(err, domain.ErrEmptyRepoURL) {
		t.Fatalf("expected empty repo url, got %v", err)
	}
	_, err = env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("3ether")}, engine.RegistrationOptions{RepoURL: "https://github.com/a/b"})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	org, err := env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("1ether")}, engine.RegistrationOptions{
		RepoURL:        "https://github.com/a/b",
		MediumDuration: 3600,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := env.Engine.GetOrganizationInfo(env.Ctx, orgAddr)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(org, got, cmp.Comparer(func(a, b wei.Amount) bool { return a.Eq(b) })); diff != "" {
		t.Fatalf("stored org differs (-want +got):\n%s", diff)
	}
	if !got.IsActive || got.Owner != orgAddr || got.TotalStaked.String() != "1000000000000000000" || !got.AvailableRewards.Eq(got.TotalStaked) {
		t.Fatalf("unexpected org %+v", got)
	}
	if got.EasyDuration != 7*86400 || got.MediumDuration != 3600 || got.HardDuration != 150*86400 {
		t.Fatalf("durations %d %d %d", got.EasyDuration, got.MediumDuration, got.HardDuration)
	}
	if bal := env.balance(t, orgAddr); bal.String() != "1000000000000000000" {
		t.Fatalf("wallet after stake %s", bal)
	}
	_, err = env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("1ether")}, engine.RegistrationOptions{RepoURL: "https://github.com/a/b"})
	if !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if bal := env.balance(t, orgAddr); bal.String() != "1000000000000000000" {
		t.Fatalf("failed register moved funds: %s", bal)
	}

	unknown, err := env.Engine.GetOrganizationInfo(env.Ctx, bob)
	if err != nil {
		t.Fatalf("unknown org should not error: %v", err)
	}
	if unknown.IsActive || !unknown.TotalStaked.IsZero() || unknown.RepoURL != "" {
		t.Fatalf("unknown org not zero-valued: %+v", unknown)
	}
}

func TestAddAICredits(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	env.fund(t, orgAddr, "0.5ether")
	org, err := env.Engine.AddAICredits(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("0.2ether")})
	if err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if org.AICredits.String() != "200000000000000000" {
		t.Fatalf("credits %s", org.AICredits)
	}
	if !org.TotalStaked.Eq(wei.MustParse("1ether")) {
		t.Fatalf("credits must not touch stake: %s", org.TotalStaked)
	}
	env.fund(t, bob, "1ether")
	if _, err := env.Engine.AddAICredits(env.Ctx, engine.Call{From: bob, Value: wei.MustParse("1ether")}); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if _, err := env.Engine.AddAICredits(env.Ctx, engine.Call{From: orgAddr}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for empty credit, got %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{Type: "AICreditsAdded"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("events %v %v", evts, err)
	}
}

func TestCreateIssueReservesBounty(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")

	next, _ := env.Engine.NextIssueID(env.Ctx)
	if next != 1 {
		t.Fatalf("first issue id should be 1, got %d", next)
	}
	issue := env.createIssue(t, orgAddr, "0.4ether", domain.DifficultyEasy)
	if issue.ID != 1 || issue.Status() != domain.IssueOpen || issue.Deadline != 0 {
		t.Fatalf("unexpected issue %+v", issue)
	}
	org, _ := env.Engine.GetOrganizationInfo(env.Ctx, orgAddr)
	if org.AvailableRewards.String() != "600000000000000000" || org.TotalStaked.String() != "1000000000000000000" {
		t.Fatalf("reserve not applied: %+v", org)
	}

	_, err := env.Engine.CreateIssue(env.Ctx, engine.Call{From: orgAddr}, engine.IssueCreateOptions{
		GithubIssueURL: "u", Bounty: wei.MustParse("0.7ether"), Org: orgAddr,
	})
	if !errors.Is(err, domain.ErrInsufficientRewards) {
		t.Fatalf("expected insufficient rewards, got %v", err)
	}
	_, err = env.Engine.CreateIssue(env.Ctx, engine.Call{From: orgAddr}, engine.IssueCreateOptions{GithubIssueURL: "u", Org: orgAddr})
	if !errors.Is(err, domain.ErrInvalidBounty) {
		t.Fatalf("expected invalid bounty, got %v", err)
	}
	_, err = env.Engine.CreateIssue(env.Ctx, engine.Call{From: bob}, engine.IssueCreateOptions{GithubIssueURL: "u", Bounty: wei.FromUint64(1), Org: orgAddr})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	_, err = env.Engine.CreateIssue(env.Ctx, engine.Call{From: otherOrg}, engine.IssueCreateOptions{GithubIssueURL: "u", Bounty: wei.FromUint64(1), Org: otherOrg})
	if !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	_, err = env.Engine.CreateIssue(env.Ctx, engine.Call{From: orgAddr, Value: wei.FromUint64(1)}, engine.IssueCreateOptions{GithubIssueURL: "u", Bounty: wei.FromUint64(1), Org: orgAddr})
	if !errors.Is(err, domain.ErrNonPayable) {
		t.Fatalf("expected non payable, got %v", err)
	}
	if next, _ := env.Engine.NextIssueID(env.Ctx); next != 2 {
		t.Fatalf("failed creates must not allocate ids, next=%d", next)
	}

	byAgent, err := env.Engine.CreateIssue(env.Ctx, engine.Call{From: agent}, engine.IssueCreateOptions{
		GithubIssueURL: "https://github.com/a/b/issues/2", Bounty: wei.MustParse("0.1ether"), Difficulty: domain.DifficultyHard, Org: orgAddr,
	})
	if err != nil {
		t.Fatalf("verified agent create: %v", err)
	}
	ids, err := env.Engine.GetOrganizationIssues(env.Ctx, orgAddr)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{1, byAgent.ID}, ids); diff != "" {
		t.Fatalf("org issues (-want +got):\n%s", diff)
	}
}

func TestTakeIssueStakeBounds(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	issue := env.createIssue(t, orgAddr, "1000wei", domain.DifficultyEasy)
	env.fund(t, alice, "1000wei")

	for _, stake := range []uint64{40, 49, 201, 210} {
		_, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: alice, Value: wei.FromUint64(stake)}, issue.ID)
		if !errors.Is(err, domain.ErrInvalidStake) {
			t.Fatalf("stake %d: expected invalid stake, got %v", stake, err)
		}
	}
	if bal := env.balance(t, alice); bal.String() != "1000" {
		t.Fatalf("rejected takes moved funds: %s", bal)
	}
	got, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: alice, Value: wei.FromUint64(50)}, issue.ID)
	if err != nil {
		t.Fatalf("take at lower bound: %v", err)
	}
	if !got.IsAssigned || got.AssignedTo != alice || got.Deadline != startOfTime.Unix()+7*86400 {
		t.Fatalf("unexpected assignment %+v", got)
	}
	if _, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: bob, Value: wei.FromUint64(200)}, issue.ID); !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("expected already assigned, got %v", err)
	}
	if _, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: bob, Value: wei.FromUint64(100)}, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStakeBoundsFloor(t *testing.T) {
	env := newTestEnv(t)
	lo, hi, err := env.Engine.StakeBounds(wei.FromUint64(999))
	if err != nil {
		t.Fatal(err)
	}
	if lo.String() != "49" || hi.String() != "199" {
		t.Fatalf("bounds %s..%s", lo, hi)
	}
}

func TestConcurrentTakeExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	issue := env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyMedium)

	const takers = 8
	addrs := make([]common.Address, takers)
	for i := range addrs {
		addrs[i] = common.HexToAddress(fmt.Sprintf("0x%040x", 0xd00+i))
		env.fund(t, addrs[i], "0.001ether")
	}
	before := env.custody(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []common.Address
		errs    []error
	)
	for _, a := range addrs {
		wg.Add(1)
		go func(a common.Address) {
			defer wg.Done()
			_, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: a, Value: wei.MustParse("0.001ether")}, issue.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, a)
				return
			}
			errs = append(errs, err)
		}(a)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d (errs %v)", len(winners), errs)
	}
	for _, err := range errs {
		if !errors.Is(err, domain.ErrAlreadyAssigned) {
			t.Fatalf("loser should see already assigned, got %v", err)
		}
	}
	got, err := env.Engine.GetIssueInfo(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedTo != winners[0] {
		t.Fatalf("assignee %s, winner %s", got.AssignedTo.Hex(), winners[0].Hex())
	}
	for _, a := range addrs {
		bal := env.balance(t, a)
		if a == winners[0] {
			if !bal.IsZero() {
				t.Fatalf("winner bond not collected: %s", bal)
			}
			continue
		}
		if !bal.Eq(wei.MustParse("0.001ether")) {
			t.Fatalf("loser %s lost funds: %s", a.Hex(), bal)
		}
	}
	if after := env.custody(t); !after.Total.Eq(before.Total) {
		t.Fatalf("custody changed: %s -> %s", before.Total, after.Total)
	}
}

func TestCompleteIssueEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	bounty := wei.MustParse("0.001ether")
	issue := env.createIssue(t, orgAddr, "0.001ether", domain.DifficultyEasy)
	org, _ := env.Engine.GetOrganizationInfo(env.Ctx, orgAddr)
	if org.AvailableRewards.String() != "999000000000000000" {
		t.Fatalf("available %s", org.AvailableRewards)
	}

	stake, _ := bounty.MulDiv(10, 100)
	env.fund(t, alice, stake.String())
	startBal := env.balance(t, alice)
	taken, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: alice, Value: stake}, issue.ID)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if taken.Deadline != startOfTime.Unix()+int64(org.EasyDuration) {
		t.Fatalf("deadline %d", taken.Deadline)
	}

	if _, _, err := env.Engine.CompleteIssue(env.Ctx, engine.Call{From: bob}, issue.ID); !errors.Is(err, domain.ErrNotAssignee) {
		t.Fatalf("expected not assignee, got %v", err)
	}
	unchanged, _ := env.Engine.GetIssueInfo(env.Ctx, issue.ID)
	if unchanged.IsCompleted || unchanged.AssignedTo != alice {
		t.Fatalf("failed complete changed state: %+v", unchanged)
	}

	// Completion after the deadline is allowed until someone reopens the issue.
	env.advance(8 * 24 * time.Hour)
	done, payouts, err := env.Engine.CompleteIssue(env.Ctx, engine.Call{From: alice}, issue.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.IsCompleted || !done.IsAssigned || done.Deadline != 0 {
		t.Fatalf("unexpected completed issue %+v", done)
	}
	if len(payouts) != 2 {
		t.Fatalf("expected bounty and refund payouts, got %d", len(payouts))
	}
	for _, p := range payouts {
		if p.Status != domain.PayoutSettled {
			t.Fatalf("payout not settled: %+v", p)
		}
	}
	want, _ := wei.Sum(startBal, bounty)
	if got := env.balance(t, alice); !got.Eq(want) {
		t.Fatalf("contributor balance %s, want %s (bounty + returned stake)", got, want)
	}
	org, _ = env.Engine.GetOrganizationInfo(env.Ctx, orgAddr)
	if org.TotalStaked.String() != "999000000000000000" || org.AvailableRewards.String() != "999000000000000000" {
		t.Fatalf("org after completion %+v", org)
	}
	if _, _, err := env.Engine.CompleteIssue(env.Ctx, engine.Call{From: alice}, issue.ID); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "issue"})
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	if diff := cmp.Diff([]string{"IssueCreated", "IssueAssigned", "IssueCompleted"}, types); diff != "" {
		t.Fatalf("issue events (-want +got):\n%s", diff)
	}
}

func TestExpireAssignmentForfeitsStake(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	issue := env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyEasy)
	env.take(t, alice, issue.ID, "0.001ether")

	if _, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: bob}, issue.ID); !errors.Is(err, domain.ErrDeadlineNotReached) {
		t.Fatalf("expected deadline not reached, got %v", err)
	}
	env.advance(7*24*time.Hour + time.Second)
	reopened, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: bob}, issue.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if reopened.Status() != domain.IssueOpen || reopened.Deadline != 0 || reopened.AssignedTo != (common.Address{}) {
		t.Fatalf("issue not reopened: %+v", reopened)
	}
	org, _ := env.Engine.GetOrganizationInfo(env.Ctx, orgAddr)
	if org.TotalStaked.String() != "1001000000000000000" || org.AvailableRewards.String() != "991000000000000000" {
		t.Fatalf("forfeit not credited to org: %+v", org)
	}
	env.fund(t, alice, "0.001ether")
	if _, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: alice, Value: wei.MustParse("0.001ether")}, issue.ID); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected already attempted, got %v", err)
	}
	env.take(t, bob, issue.ID, "0.002ether")
	if _, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: alice}, 1); !errors.Is(err, domain.ErrDeadlineNotReached) {
		t.Fatalf("fresh assignment should not expire, got %v", err)
	}
}

func TestAssignmentWindowsFollowOrganizationDurations(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, orgAddr, "1ether")
	_, err := env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("1ether")}, engine.RegistrationOptions{
		RepoURL:        "https://github.com/a/b",
		EasyDuration:   3600,
		MediumDuration: 7200,
		HardDuration:   10800,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	medium := env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyMedium)
	hard := env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyHard)
	start := startOfTime.Unix()
	if got := env.take(t, alice, medium.ID, "0.001ether").Deadline; got != start+7200 {
		t.Fatalf("medium deadline %d, want %d", got, start+7200)
	}
	if got := env.take(t, bob, hard.ID, "0.001ether").Deadline; got != start+10800 {
		t.Fatalf("hard deadline %d, want %d", got, start+10800)
	}

	env.advance(7200 * time.Second)
	if _, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: bob}, medium.ID); !errors.Is(err, domain.ErrDeadlineNotReached) {
		t.Fatalf("expiry at the deadline itself must fail, got %v", err)
	}
	env.advance(time.Second)
	if _, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: bob}, medium.ID); err != nil {
		t.Fatalf("expire one second past deadline: %v", err)
	}
	if _, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: alice}, hard.ID); !errors.Is(err, domain.ErrDeadlineNotReached) {
		t.Fatalf("hard window still open, got %v", err)
	}
}

func TestRegisterRejectsOutOfRangeDurations(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, orgAddr, "1ether")
	for _, d := range []uint64{math.MaxInt64, math.MaxUint64, domain.MaxDuration + 1} {
		_, err := env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("1ether")}, engine.RegistrationOptions{
			RepoURL:      "https://github.com/a/b",
			EasyDuration: d,
		})
		if !errors.Is(err, domain.ErrInvalidDuration) {
			t.Fatalf("duration %d: expected invalid duration, got %v", d, err)
		}
		if domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("duration %d: kind %s", d, domain.KindOf(err))
		}
	}
	if bal := env.balance(t, orgAddr); !bal.Eq(wei.MustParse("1ether")) {
		t.Fatalf("rejected registration moved funds: %s", bal)
	}
	if org, _ := env.Engine.GetOrganizationInfo(env.Ctx, orgAddr); org.IsActive {
		t.Fatalf("rejected registration left an organization behind")
	}

	org, err := env.Engine.RegisterOrganization(env.Ctx, engine.Call{From: orgAddr, Value: wei.MustParse("1ether")}, engine.RegistrationOptions{
		RepoURL:      "https://github.com/a/b",
		EasyDuration: domain.MaxDuration,
	})
	if err != nil {
		t.Fatalf("register with the longest window: %v", err)
	}
	issue := env.createIssue(t, org.Address, "0.01ether", domain.DifficultyEasy)
	taken := env.take(t, alice, issue.ID, "0.001ether")
	if want := startOfTime.Unix() + int64(domain.MaxDuration); taken.Deadline != want {
		t.Fatalf("deadline %d, want %d", taken.Deadline, want)
	}
	if _, err := env.Engine.ExpireAssignment(env.Ctx, engine.Call{From: bob}, issue.ID); !errors.Is(err, domain.ErrDeadlineNotReached) {
		t.Fatalf("stake must not be forfeitable right after take, got %v", err)
	}
}

func TestRejectAssignmentRefundsStake(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	issue := env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyHard)
	env.take(t, alice, issue.ID, "0.002ether")

	if _, err := env.Engine.RejectAssignment(env.Ctx, engine.Call{From: alice}, issue.ID); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if _, err := env.Engine.RejectAssignment(env.Ctx, engine.Call{From: orgAddr}, issue.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if bal := env.balance(t, alice); !bal.Eq(wei.MustParse("0.002ether")) {
		t.Fatalf("stake not refunded: %s", bal)
	}
	if _, err := env.Engine.RejectAssignment(env.Ctx, engine.Call{From: orgAddr}, issue.ID); !errors.Is(err, domain.ErrNotAssigned) {
		t.Fatalf("expected not assigned, got %v", err)
	}
	if _, err := env.Engine.TakeIssue(env.Ctx, engine.Call{From: alice, Value: wei.MustParse("0.002ether")}, issue.ID); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected already attempted, got %v", err)
	}
	org, _ := env.Engine.GetOrganizationInfo(env.Ctx, orgAddr)
	if org.TotalStaked.String() != "1000000000000000000" || org.AvailableRewards.String() != "990000000000000000" {
		t.Fatalf("rejection touched org funds: %+v", org)
	}
}

type failingPayer struct{}

func (failingPayer) Pay(context.Context, *sql.Tx, domain.Payout) error {
	return errors.New("transfer failed")
}

func TestPayoutsRetryAndConserveCustody(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	minted := env.custody(t).Total
	issue := env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyEasy)
	env.take(t, alice, issue.ID, "0.001ether")
	minted, _ = minted.Add(wei.MustParse("0.001ether"))

	broken := env.Engine
	broken.Payer = failingPayer{}
	_, payouts, err := broken.CompleteIssue(env.Ctx, engine.Call{From: alice}, issue.ID)
	if err != nil {
		t.Fatalf("complete must commit even when payout fails: %v", err)
	}
	for _, p := range payouts {
		if p.Status != domain.PayoutPending {
			t.Fatalf("payout should stay pending: %+v", p)
		}
	}
	c := env.custody(t)
	if !c.Total.Eq(minted) || c.PendingPayouts.String() != "11000000000000000" {
		t.Fatalf("custody while pending %+v, minted %s", c, minted)
	}
	pending, err := env.Engine.ListPayouts(env.Ctx, repo.PayoutFilters{Status: domain.PayoutPending})
	if err != nil || len(pending) != 2 || pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Fatalf("pending payouts %+v %v", pending, err)
	}

	n, err := env.Engine.SettlePending(env.Ctx, 10)
	if err != nil || n != 2 {
		t.Fatalf("settle pending: %d %v", n, err)
	}
	c = env.custody(t)
	if !c.Total.Eq(minted) || !c.PendingPayouts.IsZero() {
		t.Fatalf("custody after settle %+v", c)
	}
	if bal := env.balance(t, alice); bal.String() != "11000000000000000" {
		t.Fatalf("alice balance %s", bal)
	}
}

func TestPayoutDispatcherStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	done := make(chan struct{})
	go func() {
		engine.PayoutDispatcher{Engine: env.Engine, Interval: 10 * time.Millisecond}.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
}

func TestListIssuesPagination(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, orgAddr, "1ether")
	for i := 0; i < 5; i++ {
		env.createIssue(t, orgAddr, "0.01ether", domain.DifficultyEasy)
	}
	env.take(t, alice, 2, "0.001ether")

	page, err := env.Engine.ListIssues(env.Ctx, repo.IssueFilters{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Issues) != 2 || page.NextCursor != 2 {
		t.Fatalf("first page %+v", page)
	}
	page, err = env.Engine.ListIssues(env.Ctx, repo.IssueFilters{Limit: 2, AfterID: page.NextCursor, Status: domain.IssueOpen})
	if err != nil {
		t.Fatal(err)
	}
	var ids []uint64
	for _, i := range page.Issues {
		ids = append(ids, i.ID)
	}
	if diff := cmp.Diff([]uint64{3, 4}, ids); diff != "" {
		t.Fatalf("open page (-want +got):\n%s", diff)
	}
	last, err := env.Engine.ListIssues(env.Ctx, repo.IssueFilters{Limit: 2, AfterID: 4})
	if err != nil || len(last.Issues) != 1 || last.NextCursor != 0 {
		t.Fatalf("last page %+v %v", last, err)
	}
}
