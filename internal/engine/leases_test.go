package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

func TestClaimContention(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "implementer")
	e.Create("t-auth", "Wire the auth flow")

	lease := e.MustClaim(alice, "t-auth")
	if lease.AgentID != alice {
		t.Fatalf("lease held by %s, want %s", lease.AgentID, alice)
	}

	_, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: bob, TaskID: "t-auth"})
	perr := wantCode(t, err, protocol.CodeTaskAlreadyClaimed)
	if perr.Details["claimed_by"] != alice {
		t.Errorf("loser should learn the holder, got details %v", perr.Details)
	}
	if perr.Details["lease_id"] != lease.LeaseID {
		t.Errorf("loser should learn the lease id, got details %v", perr.Details)
	}
}

func TestClaimBlockedByUnverifiedDependency(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-base", "Base layer")
	e.Create("t-top", "Top layer", "t-base")

	_, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: alice, TaskID: "t-top"})
	perr := wantCode(t, err, protocol.CodeTaskNotClaimable)
	unmet, ok := perr.Details["unmet_dependencies"].([]string)
	if !ok || len(unmet) != 1 || unmet[0] != "t-base" {
		t.Errorf("expected unmet dependency t-base, got %v", perr.Details)
	}

	// Done is not enough; the dependency must be verified.
	e.MustClaim(alice, "t-base")
	if _, err := e.Engine.Done(e.Ctx, alice, "t-base"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	_, err = e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: alice, TaskID: "t-top"})
	wantCode(t, err, protocol.CodeTaskNotClaimable)

	if _, err := e.Engine.Verify(e.Ctx, alice, "t-base"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	e.MustClaim(alice, "t-top")
}

func TestExpiredLeaseIsReclaimableWithoutForce(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "implementer")
	e.Create("t-auth", "Wire the auth flow")

	e.MustClaim(alice, "t-auth")

	// One second before expiry the claim still stands.
	e.Clock.Advance(DefaultTTL - time.Second)
	_, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: bob, TaskID: "t-auth"})
	wantCode(t, err, protocol.CodeTaskAlreadyClaimed)

	// Past expiry nobody sweeps anything; the claim simply succeeds.
	e.Clock.Advance(2 * time.Second)
	res, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: bob, TaskID: "t-auth"})
	if err != nil {
		t.Fatalf("reclaim after expiry failed: %v", err)
	}
	if res.Lease.AgentID != bob {
		t.Errorf("new lease held by %s, want %s", res.Lease.AgentID, bob)
	}
}

func TestClaimClampsTTL(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-a", "A")
	e.Create("t-b", "B")

	res, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: alice, TaskID: "t-a", TTL: 5 * time.Second})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "clamped") {
		t.Errorf("expected a clamp warning, got %v", res.Warnings)
	}
	if res.Lease.ExpiresIn != int64(MinTTL/time.Second) {
		t.Errorf("expires_in %d, want the floor %d", res.Lease.ExpiresIn, int64(MinTTL/time.Second))
	}

	res, err = e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: alice, TaskID: "t-b", TTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if res.Lease.ExpiresIn != int64(MaxTTL/time.Second) {
		t.Errorf("expires_in %d, want the ceiling %d", res.Lease.ExpiresIn, int64(MaxTTL/time.Second))
	}
}

func TestRenewExtendsOwnLeaseOnly(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "implementer")
	e.Create("t-auth", "Wire the auth flow")

	e.MustClaim(alice, "t-auth")
	e.Clock.Advance(10 * time.Minute)

	res, err := e.Engine.Renew(e.Ctx, "t-auth", alice, 30*time.Minute)
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if res.Lease.ExpiresIn != int64(30*time.Minute/time.Second) {
		t.Errorf("renewed expires_in %d, want %d", res.Lease.ExpiresIn, int64(30*time.Minute/time.Second))
	}

	_, err = e.Engine.Renew(e.Ctx, "t-auth", bob, 0)
	perr := wantCode(t, err, protocol.CodeTaskLeaseNotHeld)
	if perr.Details["claimed_by"] != alice {
		t.Errorf("mismatch error should name the holder, got %v", perr.Details)
	}
}

func TestRenewRejectsExpiredLease(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-auth", "Wire the auth flow")

	e.MustClaim(alice, "t-auth")
	e.Clock.Advance(DefaultTTL + time.Second)

	// Renewing a corpse would resurrect a claim someone else may have
	// taken; the agent has to claim again instead.
	_, err := e.Engine.Renew(e.Ctx, "t-auth", alice, 0)
	wantCode(t, err, protocol.CodeTaskLeaseNotHeld)
}

func TestReleaseThenReclaimRestartsTheClock(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-auth", "Wire the auth flow")

	first := e.MustClaim(alice, "t-auth")
	if _, err := e.Engine.Release(e.Ctx, "t-auth", alice, "switching tasks"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	second := e.MustClaim(alice, "t-auth")
	if second.LeaseID == first.LeaseID {
		t.Error("release and reclaim should mint a fresh lease")
	}

	events := e.Events(storage.EventTaskReleased)
	if len(events) != 1 {
		t.Fatalf("got %d release events, want 1", len(events))
	}
	if events[0].Payload["reason"] != "switching tasks" {
		t.Errorf("release reason not recorded: %v", events[0].Payload)
	}
}

func TestReleaseRequiresActiveLease(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-auth", "Wire the auth flow")

	_, err := e.Engine.Release(e.Ctx, "t-auth", alice, "")
	wantCode(t, err, protocol.CodeTaskLeaseNotHeld)
}

func TestClaimWarnsOnLockOverlap(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "implementer")

	if _, err := e.Engine.CreateTask(e.Ctx, CreateArgs{
		ID: "t-parser", Title: "Parser", Locks: []string{"src/parser/**"},
	}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := e.Engine.CreateTask(e.Ctx, CreateArgs{
		ID: "t-src", Title: "Source tree sweep", Locks: []string{"src/**"},
	}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	e.MustClaim(alice, "t-parser")

	res, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: bob, TaskID: "t-src"})
	if err != nil {
		t.Fatalf("overlapping locks must warn, not block: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "t-parser") && strings.Contains(w, alice) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an overlap warning naming t-parser and %s, got %v", alice, res.Warnings)
	}

	// Force is "I know": same claim, no advisory noise.
	if _, err := e.Engine.Release(e.Ctx, "t-src", bob, ""); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	res, err = e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: bob, TaskID: "t-src", Force: true})
	if err != nil {
		t.Fatalf("forced claim failed: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("force should suppress overlap warnings, got %v", res.Warnings)
	}
}

func TestClaimRequiresRegisteredAgent(t *testing.T) {
	e := newTestEnv(t)
	e.Create("t-auth", "Wire the auth flow")

	_, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: "A00000000", TaskID: "t-auth"})
	wantCode(t, err, protocol.CodeAgentNotRegistered)

	_, err = e.Engine.Claim(e.Ctx, ClaimArgs{TaskID: "t-auth"})
	wantCode(t, err, protocol.CodeInvalidInput)
}
