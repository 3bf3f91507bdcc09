package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

func TestInsertLeaseRejectsSecondClaim(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")
	e.JoinAgent("A2222BBBB")

	first := e.Claim("task-auth", "A1111AAAA", "L00000001", 15*time.Minute)

	// A competing claim inside its own transaction must lose.
	second := e.TryClaim("task-auth", "A2222BBBB", "L00000002", 15*time.Minute)
	if second != nil {
		t.Fatalf("Expected second claim to be rejected, got lease %s", second.LeaseID)
	}

	// The winning lease is the one readers observe.
	active, err := e.Store.ActiveLease(e.Ctx, "task-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if active == nil || active.LeaseID != first.LeaseID {
		t.Fatalf("Expected active lease %s, got %+v", first.LeaseID, active)
	}
	if active.AgentID != "A1111AAAA" {
		t.Errorf("Expected holder A1111AAAA, got %s", active.AgentID)
	}
}

func TestLeaseExpiryIsLazy(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")
	e.JoinAgent("A2222BBBB")

	e.Claim("task-auth", "A1111AAAA", "L00000001", 15*time.Minute)

	// Still active one second before expiry.
	e.Clock.Advance(15*time.Minute - time.Second)
	active, err := e.Store.ActiveLease(e.Ctx, "task-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if active == nil {
		t.Fatal("Expected lease to still be active before expiry")
	}

	// Nobody sweeps expired rows; they simply stop matching the
	// activeness predicate.
	e.Clock.Advance(2 * time.Second)
	active, err = e.Store.ActiveLease(e.Ctx, "task-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if active != nil {
		t.Fatalf("Expected lease to be expired, got %+v", active)
	}

	// The task is claimable again once the old lease has lapsed.
	second := e.TryClaim("task-auth", "A2222BBBB", "L00000002", 15*time.Minute)
	if second == nil {
		t.Fatal("Expected claim after expiry to succeed")
	}
}

func TestSetLeaseExpiryRenewsAndReleases(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")

	lease := e.Claim("task-auth", "A1111AAAA", "L00000001", 15*time.Minute)

	// Renew: push expiry out from the current instant.
	e.Clock.Advance(10 * time.Minute)
	renewed := clock.Format(e.Clock.Now().Add(15 * time.Minute))
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.SetLeaseExpiry(e.Ctx, lease.LeaseID, renewed)
	})
	if err != nil {
		t.Fatalf("SetLeaseExpiry (renew) failed: %v", err)
	}

	e.Clock.Advance(10 * time.Minute) // past the original expiry
	active, err := e.Store.ActiveLease(e.Ctx, "task-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if active == nil {
		t.Fatal("Expected renewed lease to still be active past its original expiry")
	}

	// Release: clamp expiry to now, which deactivates without deleting.
	err = e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.SetLeaseExpiry(e.Ctx, lease.LeaseID, e.Now())
	})
	if err != nil {
		t.Fatalf("SetLeaseExpiry (release) failed: %v", err)
	}
	active, err = e.Store.ActiveLease(e.Ctx, "task-auth", e.Now())
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if active != nil {
		t.Fatalf("Expected released lease to be inactive, got %+v", active)
	}
}

func TestContendingClaimsAcrossHandles(t *testing.T) {
	// Two store handles on the same database file stand in for two
	// processes racing to claim one task.
	dbPath := t.TempDir() + "/runtime.db"
	first := newTestStore(t, dbPath)
	second := newTestStore(t, dbPath)

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agent := &storage.Agent{
		AgentID:      "A1111AAAA",
		RegisteredAt: clock.Format(now),
		LastSeenAt:   clock.Format(now),
	}
	err := first.RunInTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAgent(ctx, agent)
	})
	if err != nil {
		t.Fatalf("InsertAgent failed: %v", err)
	}

	claim := func(s *SQLiteStore, leaseID string, won *bool) error {
		lease := &storage.Lease{
			LeaseID:   leaseID,
			TaskID:    "task-auth",
			AgentID:   "A1111AAAA",
			CreatedAt: clock.Format(now),
			ExpiresAt: clock.Format(now.Add(15 * time.Minute)),
		}
		return s.RunInTx(ctx, func(tx storage.Tx) error {
			ok, err := tx.InsertLease(ctx, lease)
			*won = ok
			return err
		})
	}

	var (
		wg         sync.WaitGroup
		wonA, wonB bool
		errA, errB error
	)
	wg.Add(2)
	go func() { defer wg.Done(); errA = claim(first, "L00000001", &wonA) }()
	go func() { defer wg.Done(); errB = claim(second, "L00000002", &wonB) }()
	wg.Wait()

	if errA != nil {
		t.Fatalf("first claim errored: %v", errA)
	}
	if errB != nil {
		t.Fatalf("second claim errored: %v", errB)
	}
	if wonA == wonB {
		t.Fatalf("Expected exactly one winner, got first=%v second=%v", wonA, wonB)
	}

	active, err := first.ActiveLease(ctx, "task-auth", clock.Format(now))
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if active == nil {
		t.Fatal("Expected an active lease after the race")
	}
	want := "L00000001"
	if wonB {
		want = "L00000002"
	}
	if active.LeaseID != want {
		t.Errorf("Winner mismatch: readers see %s, want %s", active.LeaseID, want)
	}
}

func TestSetLeaseExpiryUnknownLease(t *testing.T) {
	e := newTestEnv(t)

	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.SetLeaseExpiry(e.Ctx, "L0MISSING", e.Now())
	})
	if err == nil {
		t.Fatal("Expected error updating a lease that does not exist")
	}
}

func TestOrphanedLeases(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")
	e.JoinAgent("A2222BBBB")
	e.Claim("task-auth", "A1111AAAA", "L00000001", time.Hour)
	e.Claim("task-docs", "A2222BBBB", "L00000002", time.Hour)

	// Simulate an out-of-band edit removing one agent row.
	if _, err := e.Store.db.ExecContext(e.Ctx, `DELETE FROM agents WHERE agent_id = ?`, "A1111AAAA"); err != nil {
		t.Fatalf("manual agent delete failed: %v", err)
	}

	var orphans []*storage.Lease
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		var err error
		orphans, err = tx.OrphanedLeases(e.Ctx, e.Now())
		return err
	})
	if err != nil {
		t.Fatalf("OrphanedLeases failed: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("Expected 1 orphaned lease, got %d", len(orphans))
	}
	if orphans[0].TaskID != "task-auth" || orphans[0].AgentID != "A1111AAAA" {
		t.Errorf("Wrong orphan reported: %+v", orphans[0])
	}
}

func TestActiveLeasesByAgent(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")
	e.JoinAgent("A2222BBBB")

	e.Claim("task-auth", "A1111AAAA", "L00000001", 30*time.Minute)
	e.Claim("task-docs", "A1111AAAA", "L00000002", 10*time.Minute)
	e.Claim("task-api", "A2222BBBB", "L00000003", time.Hour)

	leases, err := e.Store.AgentActiveLeases(e.Ctx, "A1111AAAA", e.Now())
	if err != nil {
		t.Fatalf("AgentActiveLeases failed: %v", err)
	}
	if len(leases) != 2 {
		t.Fatalf("Expected 2 leases for A1111AAAA, got %d", len(leases))
	}
	// Soonest expiry first.
	if leases[0].TaskID != "task-docs" || leases[1].TaskID != "task-auth" {
		t.Errorf("Wrong lease order: got %s then %s", leases[0].TaskID, leases[1].TaskID)
	}

	all, err := e.Store.ActiveLeases(e.Ctx, e.Now())
	if err != nil {
		t.Fatalf("ActiveLeases failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 active leases total, got %d", len(all))
	}
}

func TestLeaseRemainingSeconds(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")
	lease := e.Claim("task-auth", "A1111AAAA", "L00000001", 15*time.Minute)

	if got := lease.RemainingSeconds(e.Clock.Now()); got != 900 {
		t.Errorf("Expected 900 seconds remaining, got %d", got)
	}
	e.Clock.Advance(20 * time.Minute)
	if got := lease.RemainingSeconds(e.Clock.Now()); got != 0 {
		t.Errorf("Expected 0 seconds remaining after expiry, got %d", got)
	}
}
