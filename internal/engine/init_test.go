package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/spec"
)

func TestInitRepoIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := InitRepo(ctx, InitArgs{Dir: dir, Name: "proj"})
	if err != nil {
		t.Fatalf("InitRepo failed: %v", err)
	}
	if len(first.Created) == 0 {
		t.Fatal("first init should create the anchor")
	}

	root, err := paths.At(dir)
	if err != nil {
		t.Fatalf("paths.At failed: %v", err)
	}
	for _, p := range []string{root.SpecPath(), root.RuntimePath(), root.RolesPath(), root.LockPath()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("init should have created %s: %v", p, err)
		}
	}
	gitignore, err := os.ReadFile(filepath.Join(root.LodestarDir, ".gitignore"))
	if err != nil {
		t.Fatalf("reading anchor .gitignore: %v", err)
	}
	if !strings.Contains(string(gitignore), "runtime.db") {
		t.Error("anchor .gitignore should exclude the runtime database")
	}

	second, err := InitRepo(ctx, InitArgs{Dir: dir, Name: "proj"})
	if err != nil {
		t.Fatalf("second InitRepo failed: %v", err)
	}
	if len(second.Created) != 0 {
		t.Errorf("second init recreated %v", second.Created)
	}
}

func TestInitRepoForceResetsTheSpecButNotTheRuntime(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.Create("t-a", "A")

	if _, err := InitRepo(e.Ctx, InitArgs{Dir: e.Root.Dir, Name: "fresh", Force: true}); err != nil {
		t.Fatalf("forced InitRepo failed: %v", err)
	}

	s, err := spec.NewStore(e.Root, clock.System{}).Load()
	if err != nil {
		t.Fatalf("loading spec after force: %v", err)
	}
	if s.Len() != 0 || s.Project.Name != "fresh" {
		t.Errorf("force should rewrite the spec, got %d tasks in %q", s.Len(), s.Project.Name)
	}

	// The runtime database is never clobbered: the roster survives.
	agent, err := e.Engine.Runtime().GetAgent(e.Ctx, alice)
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent == nil {
		t.Error("force init should leave the runtime database alone")
	}
}

func TestInitRepoWritesAgentsMD(t *testing.T) {
	dir := t.TempDir()
	res, err := InitRepo(context.Background(), InitArgs{Dir: dir, Name: "proj", AgentsMD: true})
	if err != nil {
		t.Fatalf("InitRepo failed: %v", err)
	}

	found := false
	for _, p := range res.Created {
		if p == "AGENTS.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("created %v, want AGENTS.md among them", res.Created)
	}
	data, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	if err != nil {
		t.Fatalf("reading AGENTS.md: %v", err)
	}
	for _, cmd := range []string{"lodestar agent join", "lodestar task claim", "lodestar task next"} {
		if !strings.Contains(string(data), cmd) {
			t.Errorf("AGENTS.md should walk through %q", cmd)
		}
	}
}
