package spec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lodestar-dev/lodestar/internal/protocol"
)

const sampleSpec = `project:
  name: demo
  default_branch: main
tasks:
  T1:
    id: T1
    title: Design the schema
    status: verified
    priority: 10
    created_at: "2026-01-02T10:00:00Z"
    updated_at: "2026-01-02T11:00:00Z"
  T2:
    id: T2
    title: Implement the parser
    description: Covers the lexer too.
    status: ready
    priority: 20
    labels: [core, parser]
    depends_on: [T1]
    locks: [internal/parser/**]
    created_at: "2026-01-02T10:05:00Z"
    updated_at: "2026-01-02T10:05:00Z"
    prd:
      source: docs/prd.md
      refs: [{anchor: '#parser', lines: [10, 42]}]
      excerpt: The parser must be incremental.
      hash: abc123
`

func TestUnmarshalSample(t *testing.T) {
	s, err := Unmarshal([]byte(sampleSpec))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Project.Name != "demo" || s.Project.DefaultBranch != "main" {
		t.Errorf("project = %+v", s.Project)
	}
	if got := s.Len(); got != 2 {
		t.Fatalf("task count = %d, want 2", got)
	}
	if got := s.IDs(); got[0] != "T1" || got[1] != "T2" {
		t.Errorf("document order lost: %v", got)
	}

	t2, ok := s.Get("T2")
	if !ok {
		t.Fatal("T2 missing")
	}
	if t2.Status != StatusReady {
		t.Errorf("T2 status = %q", t2.Status)
	}
	if len(t2.DependsOn) != 1 || t2.DependsOn[0] != "T1" {
		t.Errorf("T2 depends_on = %v", t2.DependsOn)
	}
	if t2.PRD == nil || t2.PRD.Source != "docs/prd.md" {
		t.Fatalf("T2 prd = %+v", t2.PRD)
	}
	if len(t2.PRD.Refs) != 1 || t2.PRD.Refs[0].Anchor != "#parser" {
		t.Errorf("T2 prd refs = %+v", t2.PRD.Refs)
	}
	if got := t2.PRD.Refs[0].Lines; len(got) != 2 || got[0] != 10 || got[1] != 42 {
		t.Errorf("T2 prd lines = %v", got)
	}
}

func TestRoundTripStable(t *testing.T) {
	s, err := Unmarshal([]byte(sampleSpec))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	first, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	reloaded, err := Unmarshal(first)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	second, err := Marshal(reloaded)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("round trip not stable:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestUnknownFieldsPreserved(t *testing.T) {
	in := `project:
  name: demo
  default_branch: main
  homepage: https://example.com
tasks:
  T1:
    id: T1
    title: A task
    status: ready
    priority: 100
    estimate: 3d
custom_section:
  anything: goes
`
	s, err := Unmarshal([]byte(in))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	out, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{"homepage: https://example.com", "estimate: 3d", "custom_section:", "anything: goes"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("output lost %q:\n%s", want, out)
		}
	}
	reloaded, err := Unmarshal(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	again, err := Marshal(reloaded)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(out, again) {
		t.Error("unknown fields not stable across round trips")
	}
}

func TestUnmarshalErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not yaml", "\t{{{"},
		{"root sequence", "- a\n- b\n"},
		{"task not mapping", "tasks:\n  T1: just a string\n"},
		{"id mismatch", "tasks:\n  T1:\n    id: T2\n    title: x\n    status: ready\n"},
		{"bad priority", "tasks:\n  T1:\n    title: x\n    status: ready\n    priority: soon\n"},
		{"bad prd lines", "tasks:\n  T1:\n    title: x\n    status: ready\n    prd:\n      source: p.md\n      refs: [{anchor: '#a', lines: [1]}]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if !protocol.IsCode(err, protocol.CodeSpecMalformed) {
				t.Errorf("error = %v, want SpecMalformed", err)
			}
		})
	}
}

func TestMultilineDescriptionsUseLiteralStyle(t *testing.T) {
	s := NewSpec("demo", "main")
	task := &Task{
		ID:          "T1",
		Title:       "Write docs",
		Description: "First line.\nSecond line.",
		Status:      StatusReady,
		Priority:    DefaultPriority,
	}
	if err := s.Add(task); err != nil {
		t.Fatalf("Add: %v", err)
	}
	out, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), "description: |") {
		t.Errorf("expected literal block for multiline description:\n%s", out)
	}
	reloaded, err := Unmarshal(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, _ := reloaded.Get("T1")
	if got.Description != task.Description {
		t.Errorf("description = %q, want %q", got.Description, task.Description)
	}
}

func TestEmptyDocument(t *testing.T) {
	s, err := Unmarshal(nil)
	if err != nil {
		t.Fatalf("Unmarshal(nil): %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("task count = %d", s.Len())
	}
	if _, err := Unmarshal([]byte("project:\n  name: p\n  default_branch: main\ntasks:\n")); err != nil {
		t.Fatalf("null tasks mapping: %v", err)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := NewSpec("demo", "main")
	if err := s.Add(&Task{ID: "T1", Title: "a", Status: StatusReady}); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	err := s.Add(&Task{ID: "T1", Title: "b", Status: StatusReady})
	if !protocol.IsCode(err, protocol.CodeSpecInvariantViolation) {
		t.Errorf("error = %v, want SpecInvariantViolation", err)
	}
}
