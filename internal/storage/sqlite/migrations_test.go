package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.db")
	ctx := context.Background()

	store, err := New(ctx, path)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}

	// Write something so the second open sees an existing database.
	err = store.RunInTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAgent(ctx, &storage.Agent{AgentID: "A1111AAAA", RegisteredAt: "2025-06-01T12:00:00Z"})
	})
	if err != nil {
		t.Fatalf("InsertAgent failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening must replay schema and migrations without complaint and
	// keep the existing rows.
	store, err = New(ctx, path)
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	defer store.Close()

	agent, err := store.GetAgent(ctx, "A1111AAAA")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent == nil {
		t.Fatal("Agent lost across reopen")
	}
}

func TestMigrationsAddMessageColumns(t *testing.T) {
	e := newTestEnv(t)

	for _, column := range []string{"subject", "severity"} {
		exists, err := columnExists(e.Store.db, "messages", column)
		if err != nil {
			t.Fatalf("columnExists(%q) failed: %v", column, err)
		}
		if !exists {
			t.Errorf("Expected messages.%s to exist after migrations", column)
		}
	}
}

func TestSchemaVersionStamped(t *testing.T) {
	e := newTestEnv(t)

	stats, err := e.Store.Stats(e.Ctx, e.Now())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.SchemaVersion != schemaVersion {
		t.Errorf("Expected schema version %d, got %d", schemaVersion, stats.SchemaVersion)
	}
}

func TestListMigrationsHasDescriptions(t *testing.T) {
	for _, info := range ListMigrations() {
		if info.Description == "Unknown migration" {
			t.Errorf("Migration %s has no description", info.Name)
		}
	}
}

func TestStatsCounters(t *testing.T) {
	e := newTestEnv(t)
	e.JoinAgent("A1111AAAA")
	e.JoinAgent("A2222BBBB")
	e.Claim("task-auth", "A1111AAAA", "L00000001", 15*time.Minute)
	msg := e.Send("A1111AAAA", storage.RecipientAgent, "A2222BBBB", "hello")
	e.Send("A2222BBBB", storage.RecipientAgent, "A1111AAAA", "hi")
	e.Append(storage.EventAgentJoined, "A1111AAAA", "")

	err := e.Store.RunInTx(e.Ctx, func(tx storage.Tx) error {
		_, err := tx.MarkMessageRead(e.Ctx, msg.MessageID, e.Now())
		return err
	})
	if err != nil {
		t.Fatalf("MarkMessageRead failed: %v", err)
	}

	stats, err := e.Store.Stats(e.Ctx, e.Now())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Agents != 2 || stats.ActiveAgents != 2 {
		t.Errorf("Agent counts wrong: %+v", stats)
	}
	if stats.ActiveLeases != 1 {
		t.Errorf("Expected 1 active lease, got %d", stats.ActiveLeases)
	}
	if stats.Messages != 2 || stats.UnreadMessages != 1 {
		t.Errorf("Message counts wrong: %+v", stats)
	}
	if stats.Events != 1 || stats.LastEventID == 0 {
		t.Errorf("Event counts wrong: %+v", stats)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"busy", errDriver("database is locked (SQLITE_BUSY)"), protocol.CodeRuntimeBusy},
		{"corrupt", errDriver("database disk image is malformed"), protocol.CodeRuntimeCorrupt},
		{"not a database", errDriver("file is not a database"), protocol.CodeRuntimeCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !protocol.IsCode(got, tt.code) {
				t.Errorf("classify(%v) = %v, want code %s", tt.err, got, tt.code)
			}
		})
	}

	t.Run("coded errors pass through", func(t *testing.T) {
		orig := protocol.NewError(protocol.CodeTaskNotFound, "no such task")
		if got := classify(orig); got != orig {
			t.Errorf("Expected coded error unchanged, got %v", got)
		}
	})

	t.Run("unrelated errors pass through", func(t *testing.T) {
		orig := errDriver("some other failure")
		got := classify(orig)
		if !strings.Contains(got.Error(), "some other failure") {
			t.Errorf("Expected original error back, got %v", got)
		}
		if protocol.IsCode(got, protocol.CodeRuntimeBusy) || protocol.IsCode(got, protocol.CodeRuntimeCorrupt) {
			t.Errorf("Unrelated error must not be classified: %v", got)
		}
	})
}

type errDriver string

func (e errDriver) Error() string { return string(e) }
