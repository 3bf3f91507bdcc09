package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// testEnv is an engine over a freshly initialized repository in a temp
// directory, driven by a fake clock so lease expiry is deterministic.
type testEnv struct {
	t      *testing.T
	Engine *Engine
	Ctx    context.Context
	Clock  *clock.Fake
	Root   paths.Root
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	if _, err := InitRepo(ctx, InitArgs{Dir: dir, Name: "testproj"}); err != nil {
		t.Fatalf("InitRepo failed: %v", err)
	}
	root, err := paths.At(dir)
	if err != nil {
		t.Fatalf("paths.At failed: %v", err)
	}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng, err := Open(ctx, root, Options{Clock: clk})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	env := &testEnv{t: t, Engine: eng, Ctx: ctx, Clock: clk, Root: root}
	t.Cleanup(func() {
		if err := env.Engine.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return env
}

// Reopen closes the engine and opens a fresh one over the same
// repository, which is when orphan cleanup runs.
func (e *testEnv) Reopen() {
	e.t.Helper()
	if err := e.Engine.Close(); err != nil {
		e.t.Fatalf("Close failed: %v", err)
	}
	eng, err := Open(e.Ctx, e.Root, Options{Clock: e.Clock})
	if err != nil {
		e.t.Fatalf("Reopen failed: %v", err)
	}
	e.Engine = eng
}

// Join registers an agent under an explicit, readable ID so assertions
// can name it.
func (e *testEnv) Join(name, role string) string {
	e.t.Helper()
	res, err := e.Engine.Join(e.Ctx, JoinArgs{AgentID: name, DisplayName: name, Role: role})
	if err != nil {
		e.t.Fatalf("Join(%q) failed: %v", name, err)
	}
	return res.Agent.AgentID
}

// Now formats the fake clock's current instant the way the engine does.
func (e *testEnv) Now() string { return clock.Format(e.Clock.Now()) }

// Create adds a ready task with the given dependencies.
func (e *testEnv) Create(id, title string, deps ...string) *TaskView {
	e.t.Helper()
	res, err := e.Engine.CreateTask(e.Ctx, CreateArgs{ID: id, Title: title, DependsOn: deps})
	if err != nil {
		e.t.Fatalf("CreateTask(%q) failed: %v", id, err)
	}
	return res.Task
}

// MustClaim claims taskID for agentID with the default TTL.
func (e *testEnv) MustClaim(agentID, taskID string) *storage.Lease {
	e.t.Helper()
	res, err := e.Engine.Claim(e.Ctx, ClaimArgs{AgentID: agentID, TaskID: taskID})
	if err != nil {
		e.t.Fatalf("Claim(%q by %q) failed: %v", taskID, agentID, err)
	}
	return res.Lease
}

// MustComplete drives taskID from claimed to verified for agentID.
func (e *testEnv) MustComplete(agentID, taskID string) *VerifyResult {
	e.t.Helper()
	res, err := e.Engine.Complete(e.Ctx, agentID, taskID)
	if err != nil {
		e.t.Fatalf("Complete(%q by %q) failed: %v", taskID, agentID, err)
	}
	return res
}

// Events pulls the whole log after cursor zero.
func (e *testEnv) Events(types ...string) []*storage.Event {
	e.t.Helper()
	res, err := e.Engine.PullEvents(e.Ctx, PullArgs{Types: types, Limit: maxEventLimit})
	if err != nil {
		e.t.Fatalf("PullEvents failed: %v", err)
	}
	return res.Events
}

// wantCode asserts err is a protocol error with the given code.
func wantCode(t *testing.T, err error, code string) *protocol.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	perr, ok := err.(*protocol.Error)
	if !ok {
		t.Fatalf("expected a protocol error, got %T: %v", err, err)
	}
	if perr.Code != code {
		t.Fatalf("expected code %s, got %s: %s", code, perr.Code, perr.Message)
	}
	return perr
}
