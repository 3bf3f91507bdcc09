package lodestar_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	lodestar "github.com/lodestar-dev/lodestar"
)

func TestInitOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	res, err := lodestar.InitRepo(ctx, lodestar.InitArgs{Dir: dir, Name: "embed"})
	if err != nil {
		t.Fatalf("InitRepo failed: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q", res.Root, dir)
	}

	// Discovery walks up from a nested directory to the anchor.
	nested := filepath.Join(dir, "pkg", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	root, err := lodestar.Find(nested)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if root.Dir != dir {
		t.Errorf("Find returned %q, want %q", root.Dir, dir)
	}

	eng, err := lodestar.Open(ctx, root, lodestar.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer eng.Close()

	joined, err := eng.Join(ctx, lodestar.JoinArgs{DisplayName: "embedder"})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined.Agent.AgentID == "" {
		t.Fatal("Join minted no agent ID")
	}
	task, err := eng.CreateTask(ctx, lodestar.CreateArgs{Title: "First task"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Task.Status != lodestar.StatusReady {
		t.Errorf("new task status = %q, want %q", task.Task.Status, lodestar.StatusReady)
	}
}

func TestFindReportsUninitialized(t *testing.T) {
	_, err := lodestar.Find(t.TempDir())
	if !errors.Is(err, lodestar.ErrNotInitialized) {
		t.Errorf("Find error = %v, want ErrNotInitialized", err)
	}
}

func TestCheckHealthWithoutAnchor(t *testing.T) {
	root, err := lodestar.At(t.TempDir())
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	health := lodestar.CheckHealth(context.Background(), root, lodestar.Version)
	if health.OK {
		t.Error("expected health failure on an uninitialized directory")
	}
}

// Exported constants must match the wire values the protocol publishes.
func TestConstants(t *testing.T) {
	if lodestar.StatusReady != "ready" {
		t.Errorf("StatusReady = %q, want %q", lodestar.StatusReady, "ready")
	}
	if lodestar.StatusDone != "done" {
		t.Errorf("StatusDone = %q, want %q", lodestar.StatusDone, "done")
	}
	if lodestar.StatusVerified != "verified" {
		t.Errorf("StatusVerified = %q, want %q", lodestar.StatusVerified, "verified")
	}
	if lodestar.StatusDeleted != "deleted" {
		t.Errorf("StatusDeleted = %q, want %q", lodestar.StatusDeleted, "deleted")
	}

	if lodestar.EventTaskClaimed != "task.claimed" {
		t.Errorf("EventTaskClaimed = %q, want %q", lodestar.EventTaskClaimed, "task.claimed")
	}
	if lodestar.EventLeaseOrphaned != "lease.orphaned" {
		t.Errorf("EventLeaseOrphaned = %q, want %q", lodestar.EventLeaseOrphaned, "lease.orphaned")
	}
	if lodestar.EventMessageSent != "message.sent" {
		t.Errorf("EventMessageSent = %q, want %q", lodestar.EventMessageSent, "message.sent")
	}

	if lodestar.SeverityInfo != "info" {
		t.Errorf("SeverityInfo = %q, want %q", lodestar.SeverityInfo, "info")
	}
	if lodestar.SeverityCritical != "critical" {
		t.Errorf("SeverityCritical = %q, want %q", lodestar.SeverityCritical, "critical")
	}
}
