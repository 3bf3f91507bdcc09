// Package spec owns the committed plane: the YAML task spec, its
// validation invariants, and the dependency analysis over it. The
// runtime plane (agents, leases, messages, events) lives in
// internal/storage; nothing here touches a database.
package spec

import (
	"regexp"

	"gopkg.in/yaml.v3"
)

// Status is the task lifecycle state recorded in the committed spec.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDone     Status = "done"
	StatusVerified Status = "verified"
	StatusDeleted  Status = "deleted"
)

// Valid reports whether s is one of the four enumerated states.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusDone, StatusVerified, StatusDeleted:
		return true
	}
	return false
}

// Statuses lists the enumerated states in lifecycle order.
var Statuses = []Status{StatusReady, StatusDone, StatusVerified, StatusDeleted}

// taskIDPattern constrains task identifiers: letters, digits, hyphens.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidTaskID reports whether id is acceptable as a task identifier.
func ValidTaskID(id string) bool { return taskIDPattern.MatchString(id) }

const (
	// MaxTitleLen bounds task titles.
	MaxTitleLen = 200
	// DefaultPriority is assigned when a task is created without one.
	// Lower numbers schedule earlier.
	DefaultPriority = 100
)

// PRDRef points into the product requirements document: a heading
// anchor, optionally overridden by a 1-based inclusive line range.
type PRDRef struct {
	Anchor string `json:"anchor" yaml:"anchor"`
	Lines  []int  `json:"lines,omitempty" yaml:"lines,omitempty"`
}

// PRD binds a task to the external requirements document it was cut
// from. Excerpt and Hash freeze what the author saw at creation time so
// drift is detectable later.
type PRD struct {
	Source  string   `json:"source" yaml:"source"`
	Refs    []PRDRef `json:"refs,omitempty" yaml:"refs,omitempty"`
	Excerpt string   `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	Hash    string   `json:"hash,omitempty" yaml:"hash,omitempty"`

	extra []extraField
}

// Task is one unit of coordinated work.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	Status             Status   `json:"status"`
	Priority           int      `json:"priority"`
	Labels             []string `json:"labels,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	Locks              []string `json:"locks,omitempty"`
	CreatedAt          string   `json:"created_at,omitempty"`
	UpdatedAt          string   `json:"updated_at,omitempty"`
	PRD                *PRD     `json:"prd,omitempty"`

	extra []extraField
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Labels = append([]string(nil), t.Labels...)
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Locks = append([]string(nil), t.Locks...)
	if t.PRD != nil {
		prd := *t.PRD
		prd.Refs = append([]PRDRef(nil), t.PRD.Refs...)
		cp.PRD = &prd
	}
	return &cp
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Project names the coordinated repository.
type Project struct {
	Name          string `json:"name" yaml:"name"`
	DefaultBranch string `json:"default_branch" yaml:"default_branch"`

	extra []extraField
}

// extraField is an unknown YAML field captured during decode and
// re-emitted verbatim on encode, preserving forward compatibility with
// newer writers.
type extraField struct {
	key   *yaml.Node
	value *yaml.Node
}

// Spec is the full committed document. Task order is the document
// order, which the DAG analyzer and the encoder both rely on.
type Spec struct {
	Project Project

	tasks []*Task
	index map[string]int

	extra []extraField
}

// NewSpec returns an empty spec for the given project.
func NewSpec(name, defaultBranch string) *Spec {
	return &Spec{
		Project: Project{Name: name, DefaultBranch: defaultBranch},
		index:   make(map[string]int),
	}
}

// Tasks returns the tasks in document order. The slice is shared;
// callers must not reorder it.
func (s *Spec) Tasks() []*Task { return s.tasks }

// Len returns the number of tasks, tombstones included.
func (s *Spec) Len() int { return len(s.tasks) }

// Get looks a task up by ID.
func (s *Spec) Get(id string) (*Task, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.tasks[i], true
}

// Has reports whether id names a task in the spec.
func (s *Spec) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// IDs returns every task ID in document order.
func (s *Spec) IDs() []string {
	out := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.ID
	}
	return out
}

// Add appends a new task, preserving document order. The caller is
// responsible for running Validate afterwards; Add only guards the
// index.
func (s *Spec) Add(t *Task) error {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, exists := s.index[t.ID]; exists {
		return duplicateIDError(t.ID)
	}
	s.index[t.ID] = len(s.tasks)
	s.tasks = append(s.tasks, t)
	return nil
}
