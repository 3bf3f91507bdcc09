package engine

import (
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/protocol"
)

func intp(n int) *int { return &n }

func TestNextOrdersByPriorityThenAgeThenID(t *testing.T) {
	e := newTestEnv(t)

	if _, err := e.Engine.CreateTask(e.Ctx, CreateArgs{ID: "t-later", Title: "Later", Priority: intp(200)}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := e.Engine.CreateTask(e.Ctx, CreateArgs{ID: "t-urgent", Title: "Urgent", Priority: intp(10)}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	e.Clock.Advance(time.Minute)
	// Same priority as t-later but created a minute after it.
	if _, err := e.Engine.CreateTask(e.Ctx, CreateArgs{ID: "t-newer", Title: "Newer", Priority: intp(200)}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	res, err := e.Engine.Next(e.Ctx, "", 0)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	var got []string
	for _, c := range res.Candidates {
		got = append(got, c.Task.ID)
	}
	want := []string{"t-urgent", "t-later", "t-newer"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("candidate order %v, want %v", got, want)
		}
	}
}

func TestNextTieBreaksOnID(t *testing.T) {
	e := newTestEnv(t)
	// Identical priority and timestamp; the id decides.
	e.Create("t-b", "B")
	e.Create("t-a", "A")

	res, err := e.Engine.Next(e.Ctx, "", 0)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Candidates) != 2 || res.Candidates[0].Task.ID != "t-a" {
		t.Errorf("expected t-a first on the id tiebreak, got %+v", res.Candidates)
	}
}

func TestNextSkipsLeasedAndBlockedTasks(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-claimed", "Claimed")
	e.Create("t-open", "Open")
	e.Create("t-blocked", "Blocked", "t-open")
	e.MustClaim(alice, "t-claimed")

	res, err := e.Engine.Next(e.Ctx, alice, 0)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if res.Count != 1 || len(res.Candidates) != 1 || res.Candidates[0].Task.ID != "t-open" {
		t.Errorf("only t-open should surface, got count=%d %+v", res.Count, res.Candidates)
	}

	// Once the lease lapses the claimed task reappears.
	e.Clock.Advance(DefaultTTL + time.Second)
	res, err = e.Engine.Next(e.Ctx, alice, 0)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("expired lease should free t-claimed, count=%d", res.Count)
	}
}

func TestNextCountIsPreLimit(t *testing.T) {
	e := newTestEnv(t)
	e.Create("t-a", "A")
	e.Create("t-b", "B")
	e.Create("t-c", "C")

	res, err := e.Engine.Next(e.Ctx, "", 1)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Errorf("limit 1 returned %d candidates", len(res.Candidates))
	}
	if res.Count != 3 {
		t.Errorf("count %d, want the pre-limit total 3", res.Count)
	}
}

func TestNextRationaleNamesDependencies(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-base", "Base")
	e.Create("t-mid", "Middle", "t-base")
	e.MustClaim(alice, "t-base")
	e.MustComplete(alice, "t-base")

	res, err := e.Engine.Next(e.Ctx, "", 0)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("want exactly t-mid, got %+v", res.Candidates)
	}
	want := "priority 100, dependency t-base verified, unclaimed"
	if got := res.Candidates[0].Rationale; got != want {
		t.Errorf("rationale %q, want %q", got, want)
	}
}

func TestNextValidatesTheAgentWhenNamed(t *testing.T) {
	e := newTestEnv(t)
	e.Create("t-a", "A")

	_, err := e.Engine.Next(e.Ctx, "ghost", 1)
	wantCode(t, err, protocol.CodeAgentNotRegistered)

	// Anonymous asks are fine; the recommendation is advisory anyway.
	if _, err := e.Engine.Next(e.Ctx, "", 1); err != nil {
		t.Fatalf("anonymous Next failed: %v", err)
	}
}
