package sqlite

import (
	"reflect"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/storage"
)

func TestInsertAndGetAgent(t *testing.T) {
	e := newTestEnv(t)

	want := &storage.Agent{
		AgentID:      "A1B2C3D4",
		DisplayName:  "backend-worker",
		Role:         "implementer",
		Capabilities: []string{"go", "sql"},
		RegisteredAt: e.Now(),
		LastSeenAt:   e.Now(),
		SessionMeta:  map[string]string{"host": "ci-03", "pid": "4242"},
	}
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.InsertAgent(e.Ctx, want)
	})
	if err != nil {
		t.Fatalf("InsertAgent failed: %v", err)
	}

	got, err := e.Store.GetAgent(e.Ctx, "A1B2C3D4")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetAgent returned nil for a registered agent")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Agent round-trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestGetAgentMissing(t *testing.T) {
	e := newTestEnv(t)

	got, err := e.Store.GetAgent(e.Ctx, "A0000000")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil for unregistered agent, got %+v", got)
	}
}

func TestListAgentsFilters(t *testing.T) {
	e := newTestEnv(t)

	insert := func(agent *storage.Agent) {
		t.Helper()
		err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
			return tx.InsertAgent(e.Ctx, agent)
		})
		if err != nil {
			t.Fatalf("InsertAgent(%q) failed: %v", agent.AgentID, err)
		}
	}

	insert(&storage.Agent{
		AgentID: "A1111AAAA", DisplayName: "planner-1", Role: "planner",
		Capabilities: []string{"planning"}, RegisteredAt: e.Now(), LastSeenAt: e.Now(),
	})
	insert(&storage.Agent{
		AgentID: "A2222BBBB", DisplayName: "coder-1", Role: "implementer",
		Capabilities: []string{"go", "sql"}, RegisteredAt: e.Now(), LastSeenAt: e.Now(),
	})
	insert(&storage.Agent{
		AgentID: "A3333CCCC", DisplayName: "coder-2", Role: "implementer",
		Capabilities: []string{"go"}, RegisteredAt: e.Now(), // never seen: joined then left
	})

	tests := []struct {
		name  string
		query storage.AgentQuery
		want  []string
	}{
		{"all", storage.AgentQuery{}, []string{"A1111AAAA", "A2222BBBB", "A3333CCCC"}},
		{"active only", storage.AgentQuery{ActiveOnly: true}, []string{"A1111AAAA", "A2222BBBB"}},
		{"by role", storage.AgentQuery{Role: "implementer"}, []string{"A2222BBBB", "A3333CCCC"}},
		{"by capability", storage.AgentQuery{Capability: "sql"}, []string{"A2222BBBB"}},
		{"by name substring", storage.AgentQuery{Name: "CODER"}, []string{"A2222BBBB", "A3333CCCC"}},
		{"combined", storage.AgentQuery{Role: "implementer", ActiveOnly: true}, []string{"A2222BBBB"}},
		{"no match", storage.AgentQuery{Role: "reviewer"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agents, err := e.Store.ListAgents(e.Ctx, tt.query)
			if err != nil {
				t.Fatalf("ListAgents failed: %v", err)
			}
			var ids []string
			for _, a := range agents {
				ids = append(ids, a.AgentID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, ids)
			}
		})
	}
}

func TestTouchAndClearAgentSeen(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")

	e.Clock.Advance(90 * time.Second)
	later := e.Now()
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.TouchAgent(e.Ctx, "A1111AAAA", later)
	})
	if err != nil {
		t.Fatalf("TouchAgent failed: %v", err)
	}
	agent, err := e.Store.GetAgent(e.Ctx, "A1111AAAA")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent.LastSeenAt != later {
		t.Errorf("Expected last_seen_at %s, got %s", later, agent.LastSeenAt)
	}

	// Leave clears presence but keeps the row.
	err = e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.ClearAgentSeen(e.Ctx, "A1111AAAA")
	})
	if err != nil {
		t.Fatalf("ClearAgentSeen failed: %v", err)
	}
	agent, err = e.Store.GetAgent(e.Ctx, "A1111AAAA")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent == nil {
		t.Fatal("Agent row should persist after leave")
	}
	if agent.Active() {
		t.Errorf("Expected inactive agent after clear, got last_seen_at=%q", agent.LastSeenAt)
	}
}

func TestTouchAgentUnknown(t *testing.T) {
	e := newTestEnv(t)

	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.TouchAgent(e.Ctx, "A0MISSING", e.Now())
	})
	if err == nil {
		t.Fatal("Expected error touching an unregistered agent")
	}
}

func TestUpdateAgentKeepsRegisteredAt(t *testing.T) {
	e := newTestEnv(t)
	original := e.JoinAgent("A1111AAAA")

	updated := *original
	updated.DisplayName = "renamed"
	updated.Role = "reviewer"
	updated.Capabilities = []string{"review"}
	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		return tx.UpdateAgent(e.Ctx, &updated)
	})
	if err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	got, err := e.Store.GetAgent(e.Ctx, "A1111AAAA")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.DisplayName != "renamed" || got.Role != "reviewer" {
		t.Errorf("Update not applied: %+v", got)
	}
	if got.RegisteredAt != original.RegisteredAt {
		t.Errorf("registered_at changed from %s to %s", original.RegisteredAt, got.RegisteredAt)
	}
}

func TestTxGetAgentReadsOwnWrites(t *testing.T) {
	e := newTestEnv(t)

	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		agent := &storage.Agent{AgentID: "A1111AAAA", RegisteredAt: e.Now()}
		if err := tx.InsertAgent(e.Ctx, agent); err != nil {
			return err
		}
		got, err := tx.GetAgent(e.Ctx, "A1111AAAA")
		if err != nil {
			return err
		}
		if got == nil {
			t.Error("Expected to read the agent inserted in the same transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}
