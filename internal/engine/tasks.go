package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/prd"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// TaskResult wraps a single task response.
type TaskResult struct {
	Task *TaskView `json:"task"`

	Warnings []string `json:"-"`
}

// CreateArgs describes a new task. ID is optional; a slug derived from
// the title is minted when absent. Priority nil means DefaultPriority.
type CreateArgs struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	Priority           *int
	Labels             []string
	DependsOn          []string
	Locks              []string

	// PRD binding, frozen at creation. Hash is computed from the
	// source document if it is readable now.
	PRDSource  string
	PRDRefs    []spec.PRDRef
	PRDExcerpt string
}

// CreateTask adds a task to the committed spec. Spec plane only: the
// event type set is closed and has no task.created, so creation is
// observed through the spec file itself.
func (e *Engine) CreateTask(ctx context.Context, args CreateArgs) (*TaskResult, error) {
	if strings.TrimSpace(args.Title) == "" {
		return nil, protocol.Invalid("title", "is required")
	}
	if args.ID != "" && !spec.ValidTaskID(args.ID) {
		return nil, protocol.Invalid("id", "must be 1-64 letters, digits, or hyphens")
	}
	priority := spec.DefaultPriority
	if args.Priority != nil {
		priority = *args.Priority
	}

	var warnings []string
	var binding *spec.PRD
	if args.PRDSource != "" || args.PRDExcerpt != "" {
		binding = &spec.PRD{
			Source:  args.PRDSource,
			Refs:    args.PRDRefs,
			Excerpt: args.PRDExcerpt,
		}
		if args.PRDSource != "" {
			hash, err := prd.HashFile(e.resolvePath(args.PRDSource))
			if err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"prd source %s is not readable; drift detection starts once it exists", args.PRDSource))
			} else {
				binding.Hash = hash
			}
		}
	}

	var created *spec.Task
	s, err := e.spec.Mutate(ctx, func(s *spec.Spec) error {
		id := args.ID
		if id == "" {
			id = uniqueTaskID(s, slugify(args.Title))
		} else if s.Has(id) {
			return protocol.InvariantViolation(protocol.InvariantDuplicateID,
				"task %s already exists", id).WithDetail("task_id", id)
		}
		now := clock.Format(e.now())
		created = &spec.Task{
			ID:                 id,
			Title:              args.Title,
			Description:        args.Description,
			AcceptanceCriteria: args.AcceptanceCriteria,
			Status:             spec.StatusReady,
			Priority:           priority,
			Labels:             args.Labels,
			DependsOn:          args.DependsOn,
			Locks:              args.Locks,
			CreatedAt:          now,
			UpdatedAt:          now,
			PRD:                binding,
		}
		return s.Add(created)
	})
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: e.taskView(s, created, nil), Warnings: warnings}, nil
}

// UpdateArgs mutates task fields. Nil pointers leave fields untouched;
// a pointer to an empty value clears. Status is absent on purpose: the
// state machine moves only through claim/done/verify/complete/delete.
type UpdateArgs struct {
	TaskID             string
	Title              *string
	Description        *string
	AcceptanceCriteria *string
	Priority           *int
	Labels             *[]string
	DependsOn          *[]string
	Locks              *[]string
}

// UpdateTask rewrites the named fields and revalidates the whole spec,
// so an update that introduces a cycle or a dangling dependency is
// rejected wholesale.
func (e *Engine) UpdateTask(ctx context.Context, args UpdateArgs) (*TaskResult, error) {
	var updated *spec.Task
	s, err := e.spec.Mutate(ctx, func(s *spec.Spec) error {
		t, err := getTask(s, args.TaskID)
		if err != nil {
			return err
		}
		if t.Status == spec.StatusDeleted {
			return protocol.NewError(protocol.CodeTaskStateConflict,
				"task %s is deleted", t.ID).WithDetail("status", string(t.Status))
		}

		changed := false
		if args.Title != nil {
			t.Title = *args.Title
			changed = true
		}
		if args.Description != nil {
			t.Description = *args.Description
			changed = true
		}
		if args.AcceptanceCriteria != nil {
			t.AcceptanceCriteria = *args.AcceptanceCriteria
			changed = true
		}
		if args.Priority != nil {
			t.Priority = *args.Priority
			changed = true
		}
		if args.Labels != nil {
			t.Labels = append([]string(nil), (*args.Labels)...)
			changed = true
		}
		if args.DependsOn != nil {
			t.DependsOn = append([]string(nil), (*args.DependsOn)...)
			changed = true
		}
		if args.Locks != nil {
			t.Locks = append([]string(nil), (*args.Locks)...)
			changed = true
		}
		if !changed {
			return protocol.Invalid("update", "no fields to update")
		}
		e.spec.Touch(t)
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	lease, err := e.runtime.ActiveLease(ctx, updated.ID, e.nowString())
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: e.taskView(s, updated, lease)}, nil
}

// DeleteResult lists every task tombstoned by the call, dependents
// first.
type DeleteResult struct {
	DeletedTaskIDs []string `json:"deleted_task_ids"`
}

// DeleteTask soft-deletes a task. With live dependents the call is
// rejected unless cascade is set, in which case the whole dependent
// subtree is tombstoned in one spec write, dependents before the
// tasks they depend on, so no intermediate state dangles. One
// task.deleted event is appended per tombstone.
func (e *Engine) DeleteTask(ctx context.Context, actor, taskID string, cascade bool) (*DeleteResult, error) {
	var deleted []string
	_, err := e.spec.Mutate(ctx, func(s *spec.Spec) error {
		t, err := getTask(s, taskID)
		if err != nil {
			return err
		}
		if t.Status == spec.StatusDeleted {
			return protocol.NewError(protocol.CodeTaskStateConflict,
				"task %s is already deleted", t.ID).WithDetail("status", string(t.Status))
		}

		dependents := spec.TransitiveDependents(s, taskID)
		if len(dependents) > 0 && !cascade {
			direct := spec.Dependents(s, taskID)
			return protocol.InvariantViolation(protocol.InvariantMissingDep,
				"deleting task %s would strand %d dependent task(s); pass cascade to tombstone them too",
				taskID, len(direct)).
				WithDetail("dependents", direct)
		}

		// Reverse breadth-first order: the deepest dependents go first,
		// the requested task last.
		deleted = deleted[:0]
		for i := len(dependents) - 1; i >= 0; i-- {
			deleted = append(deleted, dependents[i])
		}
		deleted = append(deleted, taskID)
		for _, id := range deleted {
			victim, _ := s.Get(id)
			victim.Status = spec.StatusDeleted
			e.spec.Touch(victim)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := e.nowString()
	err = e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		for _, id := range deleted {
			_, err := tx.AppendEvent(ctx, &storage.Event{
				CreatedAt:    now,
				Type:         storage.EventTaskDeleted,
				ActorAgentID: actor,
				TaskID:       id,
				Payload: map[string]any{
					"cascade": cascade,
					"root":    taskID,
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedTaskIDs: deleted}, nil
}

// TaskDetail is the task.get payload: the task plus its place in the
// graph.
type TaskDetail struct {
	Task       *TaskView         `json:"task"`
	Dependents []string          `json:"dependents,omitempty"`
	Deps       map[string]string `json:"deps,omitempty"` // dependency id -> its status

	Warnings []string `json:"-"`
}

// GetTask returns one task with lease state, direct dependents, the
// status of each dependency, and a drift warning when the task's
// frozen PRD hash no longer matches the source document.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*TaskDetail, error) {
	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	t, err := getTask(s, taskID)
	if err != nil {
		return nil, err
	}
	lease, err := e.runtime.ActiveLease(ctx, t.ID, e.nowString())
	if err != nil {
		return nil, err
	}

	detail := &TaskDetail{
		Task:       e.taskView(s, t, lease),
		Dependents: spec.Dependents(s, t.ID),
	}
	if len(t.DependsOn) > 0 {
		detail.Deps = make(map[string]string, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if target, ok := s.Get(dep); ok {
				detail.Deps[dep] = string(target.Status)
			} else {
				detail.Deps[dep] = "missing"
			}
		}
	}

	if t.PRD != nil && t.PRD.Source != "" && t.PRD.Hash != "" {
		current, err := prd.HashFile(e.resolvePath(t.PRD.Source))
		switch {
		case err != nil:
			detail.Warnings = append(detail.Warnings, fmt.Sprintf(
				"prd source %s is not readable", t.PRD.Source))
		case current != t.PRD.Hash:
			detail.Warnings = append(detail.Warnings, fmt.Sprintf(
				"prd source %s has changed since this task was created (run 'lodestar task context %s')",
				t.PRD.Source, t.ID))
		}
	}
	return detail, nil
}

// TaskQuery filters ListTasks. Status empty lists live tasks only;
// "all" includes tombstones; a status name selects exactly that state.
type TaskQuery struct {
	Status        string
	Label         string
	ClaimableOnly bool
	ClaimedOnly   bool
}

// TaskListResult is the task.list payload.
type TaskListResult struct {
	Tasks []*TaskView `json:"tasks"`
	Count int         `json:"count"`
}

// ListTasks returns tasks sorted by (priority, id) with their lease
// state joined in.
func (e *Engine) ListTasks(ctx context.Context, q TaskQuery) (*TaskListResult, error) {
	if q.Status != "" && q.Status != "all" && !spec.Status(q.Status).Valid() {
		return nil, protocol.Invalid("status",
			fmt.Sprintf("%q is not one of ready, done, verified, deleted, all", q.Status))
	}

	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	leases, err := e.activeLeaseIndex(ctx)
	if err != nil {
		return nil, err
	}

	var views []*TaskView
	for _, t := range s.Tasks() {
		switch q.Status {
		case "":
			if t.Status == spec.StatusDeleted {
				continue
			}
		case "all":
		default:
			if string(t.Status) != q.Status {
				continue
			}
		}
		if q.Label != "" && !t.HasLabel(q.Label) {
			continue
		}
		view := e.taskView(s, t, leases[t.ID])
		if q.ClaimableOnly && !view.Claimable {
			continue
		}
		if q.ClaimedOnly && view.Lease == nil {
			continue
		}
		views = append(views, view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Priority != views[j].Priority {
			return views[i].Priority < views[j].Priority
		}
		return views[i].ID < views[j].ID
	})
	return &TaskListResult{Tasks: views, Count: len(views)}, nil
}

// Done moves a task from ready to done. The acting agent must hold the
// active lease; completing the work ends the claim, so the lease is
// released (reason "done") in the same runtime transaction that
// appends task.done and task.released.
func (e *Engine) Done(ctx context.Context, agentID, taskID string) (*TaskResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}

	// Fast checks on a lockless read; the spec lock re-validates below.
	s0, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	if _, err := getTask(s0, taskID); err != nil {
		return nil, err
	}
	nowStr := e.nowString()
	lease, err := e.runtime.ActiveLease(ctx, taskID, nowStr)
	if err != nil {
		return nil, err
	}
	if err := heldBy(lease, taskID, agentID); err != nil {
		return nil, err
	}

	var done *spec.Task
	s, err := e.spec.Mutate(ctx, func(s *spec.Spec) error {
		t, err := getTask(s, taskID)
		if err != nil {
			return err
		}
		if t.Status != spec.StatusReady {
			return statusConflict(t, "marked done")
		}
		t.Status = spec.StatusDone
		e.spec.Touch(t)
		done = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.SetLeaseExpiry(ctx, lease.LeaseID, nowStr); err != nil {
			return err
		}
		if err := appendTaskEvents(ctx, tx, nowStr, agentID, taskID, lease.LeaseID,
			storage.EventTaskDone, storage.EventTaskReleased); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: e.taskView(s, done, nil)}, nil
}

// VerifyResult is shared by verify and complete: the final task plus
// the advisory list of dependents that became claimable. The list is
// derived, never persisted; by the time anyone acts on it the world
// may have moved.
type VerifyResult struct {
	Task              *TaskView `json:"task"`
	NewlyReadyTaskIDs []string  `json:"newly_ready_task_ids"`
}

// Verify moves a task from done to verified. Any registered agent may
// verify, including the one that did the work.
func (e *Engine) Verify(ctx context.Context, agentID, taskID string) (*VerifyResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}

	var (
		verified   *spec.Task
		newlyReady []string
	)
	s, err := e.spec.Mutate(ctx, func(s *spec.Spec) error {
		t, err := getTask(s, taskID)
		if err != nil {
			return err
		}
		if t.Status != spec.StatusDone {
			return statusConflict(t, "verified")
		}
		t.Status = spec.StatusVerified
		e.spec.Touch(t)
		verified = t
		newlyReady = newlyReadyDependents(s, t.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := e.nowString()
	err = e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		_, err := tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    now,
			Type:         storage.EventTaskVerified,
			ActorAgentID: agentID,
			TaskID:       taskID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Task:              e.taskView(s, verified, nil),
		NewlyReadyTaskIDs: newlyReady,
	}, nil
}

// Complete is the done+verify combinator: ready straight to verified
// in one spec write, so a crash can never strand the task in done. The
// lease requirement matches Done; the event log records the same
// task.done, task.released, task.verified sequence a separate
// done-then-verify would have produced, in one transaction.
func (e *Engine) Complete(ctx context.Context, agentID, taskID string) (*VerifyResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}

	s0, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	if _, err := getTask(s0, taskID); err != nil {
		return nil, err
	}
	nowStr := e.nowString()
	lease, err := e.runtime.ActiveLease(ctx, taskID, nowStr)
	if err != nil {
		return nil, err
	}
	if err := heldBy(lease, taskID, agentID); err != nil {
		return nil, err
	}

	var (
		verified   *spec.Task
		newlyReady []string
	)
	s, err := e.spec.Mutate(ctx, func(s *spec.Spec) error {
		t, err := getTask(s, taskID)
		if err != nil {
			return err
		}
		if t.Status != spec.StatusReady {
			return statusConflict(t, "completed")
		}
		t.Status = spec.StatusVerified
		e.spec.Touch(t)
		verified = t
		newlyReady = newlyReadyDependents(s, t.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.SetLeaseExpiry(ctx, lease.LeaseID, nowStr); err != nil {
			return err
		}
		return appendTaskEvents(ctx, tx, nowStr, agentID, taskID, lease.LeaseID,
			storage.EventTaskDone, storage.EventTaskReleased, storage.EventTaskVerified)
	})
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Task:              e.taskView(s, verified, nil),
		NewlyReadyTaskIDs: newlyReady,
	}, nil
}

// statusConflict reports a state-machine violation with the task's
// actual status in the details.
func statusConflict(t *spec.Task, verb string) error {
	return protocol.NewError(protocol.CodeTaskStateConflict,
		"task %s cannot be %s: status is %s", t.ID, verb, t.Status).
		WithDetail("status", string(t.Status))
}

// newlyReadyDependents lists the direct dependents of id that are
// claimable now that id is verified. Spec-plane readiness only; lease
// availability is checked by whoever claims.
func newlyReadyDependents(s *spec.Spec, id string) []string {
	var out []string
	for _, depID := range spec.Dependents(s, id) {
		if t, ok := s.Get(depID); ok && spec.IsClaimable(t, s) {
			out = append(out, depID)
		}
	}
	return out
}

// appendTaskEvents writes one event per type, in order, all carrying
// the same actor, task, and lease payload.
func appendTaskEvents(ctx context.Context, tx storage.Tx, now, agentID, taskID, leaseID string, types ...string) error {
	for _, eventType := range types {
		ev := &storage.Event{
			CreatedAt:    now,
			Type:         eventType,
			ActorAgentID: agentID,
			TaskID:       taskID,
		}
		if eventType == storage.EventTaskReleased {
			ev.Payload = map[string]any{"lease_id": leaseID, "reason": "done"}
		}
		if _, err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// activeLeaseIndex maps task id to its active lease at the current
// instant.
func (e *Engine) activeLeaseIndex(ctx context.Context) (map[string]*storage.Lease, error) {
	leases, err := e.runtime.ActiveLeases(ctx, e.nowString())
	if err != nil {
		return nil, err
	}
	index := make(map[string]*storage.Lease, len(leases))
	for _, l := range leases {
		index[l.TaskID] = l
	}
	return index, nil
}

// resolvePath anchors a repository-relative path at the engine root.
func (e *Engine) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.root.Dir, p)
}

// slugify derives a task id from a title: lowercase, runs of
// non-alphanumerics collapsed to single hyphens, trimmed to fit
// comfortably in the id grammar.
func slugify(title string) string {
	const maxSlugLen = 48
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := b.String()
	if slug == "" {
		return "task"
	}
	return slug
}

// uniqueTaskID disambiguates a slug against existing ids by appending
// -2, -3, ... until free.
func uniqueTaskID(s *spec.Spec, slug string) string {
	if !s.Has(slug) {
		return slug
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", slug, n)
		if !s.Has(candidate) {
			return candidate
		}
	}
}
