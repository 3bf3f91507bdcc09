// Package prd resolves a task's binding into the product requirements
// document: extracting referenced sections, hashing the source, and
// detecting drift against the excerpt frozen at task creation.
package prd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Ref names a slice of the source document, either by heading anchor
// ("#schema-design") or by a 1-based inclusive line range which, when
// present, overrides the anchor.
type Ref struct {
	Anchor string
	Lines  []int
}

func (r Ref) label() string {
	if len(r.Lines) == 2 {
		return fmt.Sprintf("%s[%d-%d]", r.Anchor, r.Lines[0], r.Lines[1])
	}
	return r.Anchor
}

// Section is one resolved reference.
type Section struct {
	Ref   string `json:"ref"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Found bool   `json:"found"`
}

// Drift describes divergence between the frozen binding and the
// current source document.
type Drift struct {
	Changed      bool     `json:"changed"`
	AffectedRefs []string `json:"affected_refs,omitempty"`
}

// Result is the full context delivery for a task.
type Result struct {
	Source    string    `json:"source"`
	Hash      string    `json:"hash,omitempty"`
	Drift     Drift     `json:"drift"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Sections  []Section `json:"sections,omitempty"`
	Body      string    `json:"body,omitempty"`
	Truncated bool      `json:"truncated"`
	Budget    int       `json:"budget,omitempty"`
	Warnings  []string  `json:"-"`
}

// Binding mirrors the task's frozen PRD fields.
type Binding struct {
	Source  string
	Refs    []Ref
	Excerpt string
	Hash    string
}

// Hash returns the hex sha-256 digest of data. The same function runs
// at task creation (freezing) and at context delivery (drift check).
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile digests the document at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prd source: %w", err)
	}
	return Hash(data), nil
}

// Resolve reads the source document, extracts every referenced
// section, computes drift against the frozen hash, and assembles a
// body trimmed to budget characters (0 means unlimited).
//
// A missing source document is not an error: the result carries a
// warning, drift is flagged, and every ref is reported affected. The
// frozen excerpt is all the caller has left in that case, and it is
// still delivered.
func Resolve(binding Binding, budget int) *Result {
	res := &Result{
		Source:  binding.Source,
		Excerpt: binding.Excerpt,
		Budget:  budget,
	}

	data, err := os.ReadFile(binding.Source)
	if err != nil {
		res.Drift.Changed = binding.Hash != ""
		for _, ref := range binding.Refs {
			res.Drift.AffectedRefs = append(res.Drift.AffectedRefs, ref.label())
		}
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("prd source %s is not readable: %v", binding.Source, err))
		res.Body, res.Truncated = trim(binding.Excerpt, budget)
		return res
	}

	res.Hash = Hash(data)
	if binding.Hash != "" && binding.Hash != res.Hash {
		res.Drift.Changed = true
	}

	sections, warnings := Extract(data, binding.Refs)
	res.Sections = sections
	res.Warnings = append(res.Warnings, warnings...)
	for _, sec := range sections {
		if !sec.Found {
			res.Drift.AffectedRefs = append(res.Drift.AffectedRefs, sec.Ref)
		}
	}

	var parts []string
	for _, sec := range sections {
		if sec.Found && sec.Text != "" {
			parts = append(parts, sec.Text)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, binding.Excerpt)
	}
	res.Body, res.Truncated = trim(strings.Join(parts, "\n\n"), budget)
	return res
}

// Extract resolves each ref against the document. Missing anchors and
// out-of-range line windows yield a not-found section plus a warning
// rather than an error.
func Extract(doc []byte, refs []Ref) ([]Section, []string) {
	lines := strings.Split(string(doc), "\n")
	var sections []Section
	var warnings []string

	for _, ref := range refs {
		if len(ref.Lines) == 2 {
			sec, warn := extractLines(lines, ref)
			sections = append(sections, sec)
			if warn != "" {
				warnings = append(warnings, warn)
			}
			continue
		}
		sec, warn := extractAnchor(lines, ref)
		sections = append(sections, sec)
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	return sections, warnings
}

func extractLines(lines []string, ref Ref) (Section, string) {
	start, end := ref.Lines[0], ref.Lines[1]
	sec := Section{Ref: ref.label()}
	if start < 1 || end < start {
		return sec, fmt.Sprintf("ref %s: invalid line range", ref.label())
	}
	if start > len(lines) {
		return sec, fmt.Sprintf("ref %s: starts past end of document (%d lines)", ref.label(), len(lines))
	}
	if end > len(lines) {
		// Deliver what exists, but the ref counts as drifted.
		sec.Text = strings.Join(lines[start-1:], "\n")
		return sec, fmt.Sprintf("ref %s: extends past end of document (%d lines)", ref.label(), len(lines))
	}
	sec.Found = true
	sec.Text = strings.Join(lines[start-1:end], "\n")
	return sec, ""
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)

func extractAnchor(lines []string, ref Ref) (Section, string) {
	sec := Section{Ref: ref.label()}
	want := strings.TrimPrefix(ref.Anchor, "#")
	if want == "" {
		return sec, fmt.Sprintf("ref %s: empty anchor", ref.label())
	}

	start, level := -1, 0
	for i, line := range lines {
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if Slug(m[2]) == want {
			start, level = i, len(m[1])
			sec.Title = m[2]
			break
		}
	}
	if start == -1 {
		return sec, fmt.Sprintf("ref %s: anchor not found", ref.label())
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if m := headingPattern.FindStringSubmatch(lines[i]); m != nil && len(m[1]) <= level {
			end = i
			break
		}
	}
	sec.Found = true
	sec.Text = strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n")
	return sec, ""
}

// Slug converts a heading title to its anchor id the way most
// markdown renderers do: lowercase, spaces to hyphens, punctuation
// dropped.
func Slug(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '\t':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// trim cuts body to budget characters (runes), marking truncation.
// budget <= 0 means unlimited.
func trim(body string, budget int) (string, bool) {
	if budget <= 0 {
		return body, false
	}
	runes := []rune(body)
	if len(runes) <= budget {
		return body, false
	}
	return string(runes[:budget]), true
}
