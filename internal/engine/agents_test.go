package engine

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

func TestJoinMintsAgentIDs(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.Engine.Join(e.Ctx, JoinArgs{DisplayName: "Alice", Role: "implementer"})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	id := res.Agent.AgentID
	if !strings.HasPrefix(id, "A") || len(id) != 9 {
		t.Errorf("minted agent id %q, want A + 8 hex digits", id)
	}
	if res.Agent.RegisteredAt == "" || res.Agent.LastSeenAt == "" {
		t.Error("join should stamp registration and presence")
	}

	events := e.Events(storage.EventAgentJoined)
	if len(events) != 1 || events[0].ActorAgentID != id {
		t.Fatalf("expected one agent.joined by %s, got %+v", id, events)
	}
	if events[0].Payload["display_name"] != "Alice" {
		t.Errorf("join event payload %v", events[0].Payload)
	}
}

func TestJoinRolePresetFillsCapabilities(t *testing.T) {
	e := newTestEnv(t)

	res, err := e.Engine.Join(e.Ctx, JoinArgs{Role: "implementer"})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !reflect.DeepEqual(res.Agent.Capabilities, []string{"code", "test"}) {
		t.Errorf("implementer preset capabilities %v", res.Agent.Capabilities)
	}

	// Explicit capabilities win over the preset.
	res, err = e.Engine.Join(e.Ctx, JoinArgs{Role: "implementer", Capabilities: []string{"docs"}})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !reflect.DeepEqual(res.Agent.Capabilities, []string{"docs"}) {
		t.Errorf("explicit capabilities %v, want [docs]", res.Agent.Capabilities)
	}
}

func TestJoinRejectsDuplicateExplicitID(t *testing.T) {
	e := newTestEnv(t)
	e.Join("alice", "implementer")

	_, err := e.Engine.Join(e.Ctx, JoinArgs{AgentID: "alice"})
	wantCode(t, err, protocol.CodeAgentAlreadyExists)
}

func TestFindAgentsMatchesNameRoleCapability(t *testing.T) {
	e := newTestEnv(t)
	e.Join("alice", "implementer")
	e.Join("bob", "reviewer")

	byRole, err := e.Engine.FindAgents(e.Ctx, "", "reviewer", "")
	if err != nil {
		t.Fatalf("FindAgents failed: %v", err)
	}
	if byRole.Count != 1 || byRole.Agents[0].AgentID != "bob" {
		t.Errorf("role query returned %+v", byRole.Agents)
	}

	byCap, err := e.Engine.FindAgents(e.Ctx, "", "", "test")
	if err != nil {
		t.Fatalf("FindAgents failed: %v", err)
	}
	if byCap.Count != 1 || byCap.Agents[0].AgentID != "alice" {
		t.Errorf("capability query returned %+v", byCap.Agents)
	}

	byName, err := e.Engine.FindAgents(e.Ctx, "LIC", "", "")
	if err != nil {
		t.Fatalf("FindAgents failed: %v", err)
	}
	if byName.Count != 1 || byName.Agents[0].AgentID != "alice" {
		t.Errorf("name substring query returned %+v", byName.Agents)
	}

	if _, err := e.Engine.FindAgents(e.Ctx, "", "", ""); err == nil {
		t.Error("a predicate-free find should fail")
	}
}

func TestHeartbeatRefreshesPresenceWithoutTouchingLeases(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "implementer")
	e.Create("t-auth", "Auth")
	e.MustClaim(alice, "t-auth")

	e.Clock.Advance(10 * time.Minute)
	res, err := e.Engine.Heartbeat(e.Ctx, alice)
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if res.LastSeenAt != e.Now() {
		t.Errorf("last_seen_at %s, want %s", res.LastSeenAt, e.Now())
	}

	// The lease still expires on its original schedule.
	e.Clock.Advance(6 * time.Minute)
	if _, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: bob, TaskID: "t-auth"}); err != nil {
		t.Fatalf("the claim should have lapsed despite the heartbeat: %v", err)
	}

	_, err = e.Engine.Heartbeat(e.Ctx, "ghost")
	wantCode(t, err, protocol.CodeAgentNotRegistered)
}

func TestLeaveClearsPresenceButNotLeases(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-auth", "Auth")
	e.MustClaim(alice, "t-auth")

	left, err := e.Engine.Leave(e.Ctx, alice)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if len(left.HeldTaskIDs) != 1 || left.HeldTaskIDs[0] != "t-auth" {
		t.Errorf("leave should report the lease left running, got %v", left.HeldTaskIDs)
	}
	if len(left.Warnings) != 1 {
		t.Errorf("expected one held-lease warning, got %v", left.Warnings)
	}

	active, err := e.Engine.ListAgents(e.Ctx, true)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if active.Count != 0 {
		t.Errorf("leave should clear presence, still listed: %+v", active.Agents)
	}
	all, err := e.Engine.ListAgents(e.Ctx, false)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if all.Count != 1 {
		t.Error("the agent row should survive leave")
	}

	// The claim keeps running; it lapses by TTL, not by departure.
	lease, err := e.Engine.Runtime().ActiveLease(e.Ctx, "t-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if lease == nil || lease.AgentID != alice {
		t.Errorf("lease should outlive the leave, got %+v", lease)
	}

	// Heartbeat restores presence.
	if _, err := e.Engine.Heartbeat(e.Ctx, alice); err != nil {
		t.Fatalf("Heartbeat after leave failed: %v", err)
	}
	active, err = e.Engine.ListAgents(e.Ctx, true)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if active.Count != 1 {
		t.Error("heartbeat should restore presence")
	}
}

func TestReopenExpiresOrphanedLeases(t *testing.T) {
	e := newTestEnv(t)
	e.Create("t-auth", "Auth")

	// A lease whose agent row never existed: the runtime database was
	// deleted and rebuilt, or a foreign snapshot was restored.
	err := e.Engine.Runtime().RunInTx(e.Ctx, func(tx storage.Tx) error {
		ok, err := tx.InsertLease(e.Ctx, &storage.Lease{
			LeaseID:   "LDEADBEEF",
			TaskID:    "t-auth",
			AgentID:   "AGONE1234",
			CreatedAt: e.Now(),
			ExpiresAt: clock.Format(e.Clock.Now().Add(2 * time.Hour)),
		})
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("test lease insert lost a race it cannot have had")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding the orphan failed: %v", err)
	}

	e.Reopen()

	lease, err := e.Engine.Runtime().ActiveLease(e.Ctx, "t-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if lease != nil {
		t.Errorf("orphaned lease should be expired on open, got %+v", lease)
	}

	events := e.Events(storage.EventLeaseOrphaned)
	if len(events) != 1 {
		t.Fatalf("got %d lease.orphaned events, want 1", len(events))
	}
	ev := events[0]
	if ev.TaskID != "t-auth" || ev.TargetAgentID != "AGONE1234" {
		t.Errorf("orphan event targets %s/%s", ev.TaskID, ev.TargetAgentID)
	}
	if ev.Payload["lease_id"] != "LDEADBEEF" {
		t.Errorf("orphan event payload %v", ev.Payload)
	}
}
