package prd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `# Product Requirements

Intro paragraph.

## Schema Design

The schema has two planes.

### Nested Detail

Belongs to schema design.

## Parser

The parser must be incremental.

## Appendix

Misc.
`

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prd.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing doc: %v", err)
	}
	return path
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Schema Design", "schema-design"},
		{"  Parser  ", "parser"},
		{"What's New?", "whats-new"},
		{"CLI & RPC", "cli--rpc"},
		{"Already-Hyphenated", "already-hyphenated"},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractAnchor(t *testing.T) {
	sections, warnings := Extract([]byte(sampleDoc), []Ref{{Anchor: "#schema-design"}})
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	sec := sections[0]
	if !sec.Found {
		t.Fatal("section not found")
	}
	if sec.Title != "Schema Design" {
		t.Errorf("title = %q", sec.Title)
	}
	// The section runs through its subsection and stops at the next
	// same-level heading.
	if !strings.Contains(sec.Text, "Nested Detail") {
		t.Error("subsection not included")
	}
	if strings.Contains(sec.Text, "Parser") {
		t.Error("section leaked into the next same-level heading")
	}
}

func TestExtractAnchorMissingIsWarning(t *testing.T) {
	sections, warnings := Extract([]byte(sampleDoc), []Ref{{Anchor: "#nonexistent"}})
	if sections[0].Found {
		t.Error("found = true for missing anchor")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "anchor not found") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestExtractLineRange(t *testing.T) {
	sections, warnings := Extract([]byte("l1\nl2\nl3\nl4\nl5"), []Ref{{Anchor: "#x", Lines: []int{2, 4}}})
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if got := sections[0].Text; got != "l2\nl3\nl4" {
		t.Errorf("text = %q", got)
	}
}

func TestExtractLineRangePastEOF(t *testing.T) {
	sections, warnings := Extract([]byte("l1\nl2"), []Ref{{Anchor: "#x", Lines: []int{2, 9}}})
	if sections[0].Found {
		t.Error("range past EOF should not count as found")
	}
	if sections[0].Text != "l2" {
		t.Errorf("partial text = %q", sections[0].Text)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestResolveNoDrift(t *testing.T) {
	path := writeDoc(t, sampleDoc)
	frozen, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	res := Resolve(Binding{
		Source:  path,
		Refs:    []Ref{{Anchor: "#parser"}},
		Excerpt: "The parser must be incremental.",
		Hash:    frozen,
	}, 0)
	if res.Drift.Changed {
		t.Error("drift on unchanged source")
	}
	if len(res.Sections) != 1 || !res.Sections[0].Found {
		t.Fatalf("sections = %+v", res.Sections)
	}
	if !strings.Contains(res.Body, "incremental") {
		t.Errorf("body = %q", res.Body)
	}
}

func TestResolveDetectsDrift(t *testing.T) {
	path := writeDoc(t, sampleDoc)
	frozen, _ := HashFile(path)

	edited := strings.Replace(sampleDoc, "## Parser", "## Tokenizer", 1)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("editing doc: %v", err)
	}

	res := Resolve(Binding{
		Source:  path,
		Refs:    []Ref{{Anchor: "#parser"}},
		Excerpt: "The parser must be incremental.",
		Hash:    frozen,
	}, 0)
	if !res.Drift.Changed {
		t.Error("drift not detected")
	}
	if len(res.Drift.AffectedRefs) != 1 || res.Drift.AffectedRefs[0] != "#parser" {
		t.Errorf("affected = %v", res.Drift.AffectedRefs)
	}
	// The frozen excerpt survives as the fallback body.
	if !strings.Contains(res.Body, "incremental") {
		t.Errorf("body = %q", res.Body)
	}
}

func TestResolveMissingSource(t *testing.T) {
	res := Resolve(Binding{
		Source:  filepath.Join(t.TempDir(), "gone.md"),
		Refs:    []Ref{{Anchor: "#a"}, {Anchor: "#b"}},
		Excerpt: "frozen words",
		Hash:    "deadbeef",
	}, 0)
	if !res.Drift.Changed {
		t.Error("missing source must flag drift")
	}
	if len(res.Drift.AffectedRefs) != 2 {
		t.Errorf("affected = %v", res.Drift.AffectedRefs)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning")
	}
	if res.Body != "frozen words" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestResolveBudget(t *testing.T) {
	path := writeDoc(t, sampleDoc)
	res := Resolve(Binding{Source: path, Refs: []Ref{{Anchor: "#product-requirements"}}}, 10)
	if !res.Truncated {
		t.Error("expected truncation")
	}
	if got := len([]rune(res.Body)); got != 10 {
		t.Errorf("body length = %d, want 10", got)
	}

	unlimited := Resolve(Binding{Source: path, Refs: []Ref{{Anchor: "#parser"}}}, 0)
	if unlimited.Truncated {
		t.Error("unexpected truncation with no budget")
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("same bytes"))
	b := Hash([]byte("same bytes"))
	c := Hash([]byte("other bytes"))
	if a != b {
		t.Error("hash not deterministic")
	}
	if a == c {
		t.Error("hash collision on different input")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}
