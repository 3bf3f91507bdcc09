package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/spec"
)

// Candidate is one scheduler recommendation: a claimable task and the
// reason it surfaced.
type Candidate struct {
	Task      *TaskView `json:"task"`
	Rationale string    `json:"rationale"`
}

// NextResult is the task.next payload. Count is the total number of
// claimable tasks before the limit was applied, so an agent can tell
// "nothing to do" from "nothing in this page".
type NextResult struct {
	Candidates []*Candidate `json:"candidates"`
	Count      int          `json:"count"`
}

// Next recommends work: tasks that are ready with every dependency
// verified, minus anything under an active lease, ordered by
// (priority, created_at, id). The recommendation is advisory (the
// claim itself is the only arbiter) so two agents calling Next
// concurrently may see the same candidate and race to claim it; one
// wins, the other re-asks.
//
// Limit 0 returns every candidate.
func (e *Engine) Next(ctx context.Context, agentID string, limit int) (*NextResult, error) {
	if agentID != "" {
		if _, err := e.requireAgent(ctx, agentID); err != nil {
			return nil, err
		}
	}

	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	leases, err := e.activeLeaseIndex(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []*spec.Task
	for _, t := range s.Tasks() {
		if !spec.IsClaimable(t, s) {
			continue
		}
		if leases[t.ID] != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})

	total := len(tasks)
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	candidates := make([]*Candidate, 0, len(tasks))
	for _, t := range tasks {
		candidates = append(candidates, &Candidate{
			Task:      e.taskView(s, t, nil),
			Rationale: rationale(t),
		})
	}
	return &NextResult{Candidates: candidates, Count: total}, nil
}

// rationale explains in one line why a task is on the list.
func rationale(t *spec.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "priority %d", t.Priority)
	switch len(t.DependsOn) {
	case 0:
		b.WriteString(", no dependencies")
	case 1:
		fmt.Fprintf(&b, ", dependency %s verified", t.DependsOn[0])
	default:
		fmt.Fprintf(&b, ", all %d dependencies verified", len(t.DependsOn))
	}
	b.WriteString(", unclaimed")
	return b.String()
}
