package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// testEnv provides a test environment with a fresh store, a fake clock
// pinned to a fixed instant, and helpers for the common row fixtures.
// Use newTestEnv(t) to create one with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *SQLiteStore
	Ctx   context.Context
	Clock *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:     t,
		Store: newTestStore(t, ""),
		Ctx:   context.Background(),
		Clock: clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

// Now returns the fake clock's current instant in canonical form.
func (e *testEnv) Now() string {
	return clock.Format(e.Clock.Now())
}

// JoinAgent registers an agent with presence set to the current instant.
func (e *testEnv) JoinAgent(agentID string) *storage.Agent {
	e.t.Helper()
	agent := &storage.Agent{
		AgentID:      agentID,
		DisplayName:  agentID,
		RegisteredAt: e.Now(),
		LastSeenAt:   e.Now(),
	}
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.InsertAgent(e.Ctx, agent)
	})
	if err != nil {
		e.t.Fatalf("InsertAgent(%q) failed: %v", agentID, err)
	}
	return agent
}

// Claim inserts a lease for taskID held by agentID, valid for ttl from
// the fake clock's current instant. It fails the test on a conflict.
func (e *testEnv) Claim(taskID, agentID, leaseID string, ttl time.Duration) *storage.Lease {
	e.t.Helper()
	lease := e.TryClaim(taskID, agentID, leaseID, ttl)
	if lease == nil {
		e.t.Fatalf("Claim(%q, %q): task already claimed", taskID, agentID)
	}
	return lease
}

// TryClaim is Claim without the conflict fatal; it returns nil when the
// task already had an active lease.
func (e *testEnv) TryClaim(taskID, agentID, leaseID string, ttl time.Duration) *storage.Lease {
	e.t.Helper()
	now := e.Clock.Now()
	lease := &storage.Lease{
		LeaseID:   leaseID,
		TaskID:    taskID,
		AgentID:   agentID,
		CreatedAt: clock.Format(now),
		ExpiresAt: clock.Format(now.Add(ttl)),
	}
	inserted := false
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		ok, err := tx.InsertLease(e.Ctx, lease)
		inserted = ok
		return err
	})
	if err != nil {
		e.t.Fatalf("InsertLease(%q) failed: %v", taskID, err)
	}
	if !inserted {
		return nil
	}
	return lease
}

// Send inserts a message and returns it with the assigned ID.
func (e *testEnv) Send(from, toType, toID, body string) *storage.Message {
	e.t.Helper()
	msg := &storage.Message{
		CreatedAt:   e.Now(),
		FromAgentID: from,
		ToType:      toType,
		ToID:        toID,
		Body:        body,
	}
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		_, err := tx.InsertMessage(e.Ctx, msg)
		return err
	})
	if err != nil {
		e.t.Fatalf("InsertMessage(%q -> %s %s) failed: %v", from, toType, toID, err)
	}
	return msg
}

// Append writes one event of the given type at the current instant.
func (e *testEnv) Append(eventType, actorID, taskID string) *storage.Event {
	e.t.Helper()
	ev := &storage.Event{
		CreatedAt:    e.Now(),
		Type:         eventType,
		ActorAgentID: actorID,
		TaskID:       taskID,
	}
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		_, err := tx.AppendEvent(e.Ctx, ev)
		return err
	})
	if err != nil {
		e.t.Fatalf("AppendEvent(%q) failed: %v", eventType, err)
	}
	return ev
}

// newTestStore creates a store backed by a temp file. File-based
// databases are more reliable than in-memory for connection pool
// scenarios, and the temp dir is removed when the test completes.
func newTestStore(t *testing.T, dbPath string) *SQLiteStore {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/runtime.db"
	}

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
