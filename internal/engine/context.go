package engine

import (
	"context"
	"fmt"

	"github.com/lodestar-dev/lodestar/internal/prd"
	"github.com/lodestar-dev/lodestar/internal/spec"
)

// DefaultContextBudget caps the assembled context body when the caller
// does not choose one. Roughly two thousand tokens: enough to orient an
// agent, small enough not to crowd out its actual work.
const DefaultContextBudget = 8000

// ContextResult is the task.context payload: the requirements context
// for one task, with drift between the frozen binding and the live
// document made explicit.
type ContextResult struct {
	TaskID    string        `json:"task_id"`
	Source    string        `json:"source,omitempty"`
	Drift     prd.Drift     `json:"drift"`
	Excerpt   string        `json:"excerpt,omitempty"`
	Sections  []prd.Section `json:"sections,omitempty"`
	Body      string        `json:"body,omitempty"`
	Truncated bool          `json:"truncated"`
	Budget    int           `json:"budget"`

	Warnings []string `json:"-"`
}

// Context delivers a task's PRD context. Tasks without a binding yield
// an empty result and a warning rather than an error; "no context" is
// an answer an agent can act on.
func (e *Engine) Context(ctx context.Context, taskID string, budget int) (*ContextResult, error) {
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	t, err := getTask(s, taskID)
	if err != nil {
		return nil, err
	}

	result := &ContextResult{TaskID: t.ID, Budget: budget}
	if t.PRD == nil || (t.PRD.Source == "" && t.PRD.Excerpt == "") {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("task %s has no prd binding", t.ID))
		return result, nil
	}

	binding := prd.Binding{
		Source:  e.resolvePath(t.PRD.Source),
		Excerpt: t.PRD.Excerpt,
		Hash:    t.PRD.Hash,
		Refs:    prdRefs(t.PRD.Refs),
	}
	res := prd.Resolve(binding, budget)

	result.Source = t.PRD.Source
	result.Drift = res.Drift
	result.Excerpt = res.Excerpt
	result.Sections = res.Sections
	result.Body = res.Body
	result.Truncated = res.Truncated
	result.Warnings = append(result.Warnings, res.Warnings...)
	if res.Drift.Changed {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"prd source %s has changed since task %s froze its excerpt", t.PRD.Source, t.ID))
	}
	return result, nil
}

func prdRefs(refs []spec.PRDRef) []prd.Ref {
	out := make([]prd.Ref, len(refs))
	for i, r := range refs {
		out[i] = prd.Ref{Anchor: r.Anchor, Lines: r.Lines}
	}
	return out
}
