package spec

import (
	"strings"

	"github.com/lodestar-dev/lodestar/internal/protocol"
)

// Validate enforces every spec-plane invariant. It runs on each load
// and before each write; a mutation that fails validation is rejected
// wholesale.
func Validate(s *Spec) error {
	seen := make(map[string]bool, len(s.tasks))
	for _, t := range s.tasks {
		if !ValidTaskID(t.ID) {
			return protocol.InvariantViolation(protocol.InvariantDuplicateID,
				"task id %q must be 1-64 letters, digits, or hyphens", t.ID).
				WithDetail("task_id", t.ID)
		}
		if seen[t.ID] {
			return duplicateIDError(t.ID)
		}
		seen[t.ID] = true

		if strings.TrimSpace(t.Title) == "" {
			return protocol.Invalid("title", "must not be empty").WithDetail("task_id", t.ID)
		}
		if len(t.Title) > MaxTitleLen {
			return protocol.Invalid("title", "must be at most 200 characters").WithDetail("task_id", t.ID)
		}
		if !t.Status.Valid() {
			return protocol.InvariantViolation(protocol.InvariantBadStatus,
				"task %s has status %q; must be one of ready, done, verified, deleted", t.ID, t.Status).
				WithDetail("task_id", t.ID).
				WithDetail("status", string(t.Status))
		}
	}

	if missing := MissingDeps(s); len(missing) > 0 {
		first := missing[0]
		refs := make([]string, len(missing))
		for i, m := range missing {
			refs[i] = m.TaskID + " -> " + m.Dep
		}
		return protocol.InvariantViolation(protocol.InvariantMissingDep,
			"task %s depends on %q which does not exist or is deleted", first.TaskID, first.Dep).
			WithDetail("refs", refs)
	}

	if cycle := DetectCycle(s); cycle != nil {
		return protocol.InvariantViolation(protocol.InvariantCycle,
			"dependency cycle: %s", strings.Join(cycle, " -> ")).
			WithDetail("cycle", cycle)
	}
	return nil
}

func duplicateIDError(id string) error {
	return protocol.InvariantViolation(protocol.InvariantDuplicateID,
		"duplicate task id %q", id).WithDetail("task_id", id)
}

func malformedError(format string, args ...any) error {
	return protocol.NewError(protocol.CodeSpecMalformed, format, args...)
}
