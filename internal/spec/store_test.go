package spec

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
)

func newTestStore(t *testing.T) (*Store, paths.Root) {
	t.Helper()
	root, err := paths.At(t.TempDir())
	if err != nil {
		t.Fatalf("paths.At: %v", err)
	}
	if err := os.MkdirAll(root.LodestarDir, 0o755); err != nil {
		t.Fatalf("mkdir anchor: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := NewStore(root, clk)
	if err := os.WriteFile(st.Path(), []byte(sampleSpec), 0o644); err != nil {
		t.Fatalf("seeding spec: %v", err)
	}
	return st, root
}

func TestLoad(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("task count = %d, want 2", s.Len())
	}
}

func TestLoadMissingSpec(t *testing.T) {
	root, _ := paths.At(t.TempDir())
	st := NewStore(root, clock.System{})
	_, err := st.Load()
	if !protocol.IsCode(err, protocol.CodeNotInitialized) {
		t.Errorf("error = %v, want NotInitialized", err)
	}
}

func TestMutatePersists(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.Mutate(ctx, func(s *Spec) error {
		task, ok := s.Get("T2")
		if !ok {
			t.Fatal("T2 missing inside mutation")
		}
		task.Priority = 5
		st.Touch(task)
		return s.Add(&Task{
			ID:        "T3",
			Title:     "Follow-up work",
			Status:    StatusReady,
			Priority:  DefaultPriority,
			DependsOn: []string{"T2"},
			CreatedAt: clock.Format(st.Now()),
			UpdatedAt: clock.Format(st.Now()),
		})
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	reloaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load after mutate: %v", err)
	}
	t2, _ := reloaded.Get("T2")
	if t2.Priority != 5 {
		t.Errorf("T2 priority = %d, want 5", t2.Priority)
	}
	if !reloaded.Has("T3") {
		t.Error("T3 not persisted")
	}
}

func TestMutateRejectionLeavesFileUntouched(t *testing.T) {
	st, _ := newTestStore(t)
	before, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("read before: %v", err)
	}

	_, err = st.Mutate(context.Background(), func(s *Spec) error {
		t1, _ := s.Get("T1")
		t1.DependsOn = []string{"T2"} // T2 already depends on T1: cycle
		return nil
	})
	if !protocol.IsCode(err, protocol.CodeSpecInvariantViolation) {
		t.Fatalf("error = %v, want SpecInvariantViolation", err)
	}

	after, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if string(before) != string(after) {
		t.Error("rejected mutation modified the file")
	}
}

func TestMutateLockTimeout(t *testing.T) {
	st, root := newTestStore(t)
	st.lockTimeout = 150 * time.Millisecond

	// Hold the sentinel from "another process".
	holder := flock.New(root.LockPath())
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("holding lock: locked=%t err=%v", locked, err)
	}
	defer holder.Unlock()

	_, err = st.Mutate(context.Background(), func(s *Spec) error { return nil })
	if !protocol.IsCode(err, protocol.CodeLockTimeout) {
		t.Errorf("error = %v, want LockTimeout", err)
	}
}

func TestConcurrentMutations(t *testing.T) {
	st, root := newTestStore(t)
	ctx := context.Background()

	// Two stores over the same files, mutating in parallel: both
	// writes must land because the sentinel serializes them.
	st2 := NewStore(root, clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	add := func(i int, s *Store, id string) {
		defer wg.Done()
		_, errs[i] = s.Mutate(ctx, func(sp *Spec) error {
			return sp.Add(&Task{ID: id, Title: "t " + id, Status: StatusReady, Priority: DefaultPriority})
		})
	}
	wg.Add(2)
	go add(0, st, "P1")
	go add(1, st2, "P2")
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
	}
	final, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !final.Has("P1") || !final.Has("P2") {
		t.Errorf("lost update: have %v", final.IDs())
	}
}

func TestInit(t *testing.T) {
	root, _ := paths.At(t.TempDir())
	if err := os.MkdirAll(root.LodestarDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	st := NewStore(root, clock.System{})
	ctx := context.Background()

	if err := st.Init(ctx, NewSpec("fresh", "main"), false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := st.Init(ctx, NewSpec("fresh", "main"), false); err == nil {
		t.Fatal("second Init without force should fail")
	}
	if err := st.Init(ctx, NewSpec("fresh2", "main"), true); err != nil {
		t.Fatalf("forced Init: %v", err)
	}
	s, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Project.Name != "fresh2" {
		t.Errorf("project = %q", s.Project.Name)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	st, root := newTestStore(t)
	_, err := st.Mutate(context.Background(), func(s *Spec) error { return nil })
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	entries, err := os.ReadDir(root.LodestarDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("stray temp file %s", e.Name())
		}
	}
}
