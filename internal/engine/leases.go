package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// ClaimArgs asks for an exclusive lease on a task. TTL zero means the
// engine default. Force does not evict an active lease (claims are
// never stolen); it only suppresses the advisory lock-overlap warnings
// for an agent that has coordinated out of band.
type ClaimArgs struct {
	TaskID  string
	AgentID string
	TTL     time.Duration
	Force   bool
}

// ClaimResult carries the fresh lease and the claimed task. Warnings
// (TTL clamping, lock overlaps) ride the envelope, not the payload.
type ClaimResult struct {
	Lease *storage.Lease `json:"lease"`
	Task  *TaskView      `json:"task,omitempty"`

	Warnings []string `json:"-"`
}

// Claim atomically acquires a lease on a claimable task. The check for
// an existing active lease and the insert are one statement inside one
// transaction, so two contending processes cannot both win; the loser
// gets TaskAlreadyClaimed with the holder's lease in the details.
func (e *Engine) Claim(ctx context.Context, args ClaimArgs) (*ClaimResult, error) {
	if _, err := e.requireAgent(ctx, args.AgentID); err != nil {
		return nil, err
	}

	var warnings []string
	ttl := args.TTL
	if ttl == 0 {
		ttl = e.defaultTTL
	}
	if clamped, moved := clampTTL(ttl); moved {
		warnings = append(warnings, fmt.Sprintf("ttl %s clamped to %s (allowed range %s to %s)",
			ttl, clamped, MinTTL, MaxTTL))
		ttl = clamped
	}

	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	task, err := getTask(s, args.TaskID)
	if err != nil {
		return nil, err
	}
	if err := claimableOrError(s, task); err != nil {
		return nil, err
	}

	now := e.now()
	nowStr := clock.Format(now)
	if !args.Force {
		overlap, err := e.lockOverlapWarnings(ctx, s, task, nowStr)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, overlap...)
	}

	lease := &storage.Lease{
		LeaseID:   newLeaseID(),
		TaskID:    task.ID,
		AgentID:   args.AgentID,
		CreatedAt: nowStr,
		ExpiresAt: clock.Format(now.Add(ttl)),
	}

	err = e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		ok, err := tx.InsertLease(ctx, lease)
		if err != nil {
			return err
		}
		if !ok {
			holder, err := tx.ActiveLease(ctx, task.ID, nowStr)
			if err != nil {
				return err
			}
			conflict := protocol.NewError(protocol.CodeTaskAlreadyClaimed,
				"task %s is already claimed", task.ID)
			if holder != nil {
				conflict = conflict.
					WithDetail("claimed_by", holder.AgentID).
					WithDetail("lease_id", holder.LeaseID).
					WithDetail("expires_at", holder.ExpiresAt).
					WithDetail("expires_in_seconds", holder.RemainingSeconds(now))
			}
			return conflict
		}
		_, err = tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    nowStr,
			Type:         storage.EventTaskClaimed,
			ActorAgentID: args.AgentID,
			TaskID:       task.ID,
			Payload: map[string]any{
				"lease_id":    lease.LeaseID,
				"ttl_seconds": int64(ttl / time.Second),
				"expires_at":  lease.ExpiresAt,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	lease.ExpiresIn = lease.RemainingSeconds(now)
	view := e.taskView(s, task, nil)
	view.Claimable = false // it was, until this claim
	return &ClaimResult{Lease: lease, Task: view, Warnings: warnings}, nil
}

// claimableOrError explains exactly why a task cannot be claimed:
// wrong status, or which dependencies are still unverified.
func claimableOrError(s *spec.Spec, task *spec.Task) error {
	if task.Status != spec.StatusReady {
		return protocol.NewError(protocol.CodeTaskNotClaimable,
			"task %s is not claimable (status %s)", task.ID, task.Status).
			WithDetail("status", string(task.Status))
	}
	var unmet []string
	for _, dep := range task.DependsOn {
		target, ok := s.Get(dep)
		if !ok || target.Status != spec.StatusVerified {
			unmet = append(unmet, dep)
		}
	}
	if len(unmet) > 0 {
		return protocol.NewError(protocol.CodeTaskNotClaimable,
			"task %s has unverified dependencies: %s", task.ID, strings.Join(unmet, ", ")).
			WithDetail("status", string(task.Status)).
			WithDetail("unmet_dependencies", unmet)
	}
	return nil
}

// lockOverlapWarnings compares the task's lock globs against the locks
// of every actively leased task. Overlaps never block a claim (the
// globs are advisory) but concurrent edits to the same paths are
// worth a warning.
func (e *Engine) lockOverlapWarnings(ctx context.Context, s *spec.Spec, task *spec.Task, now string) ([]string, error) {
	if len(task.Locks) == 0 {
		return nil, nil
	}
	leases, err := e.runtime.ActiveLeases(ctx, now)
	if err != nil {
		return nil, err
	}
	var warnings []string
	for _, lease := range leases {
		if lease.TaskID == task.ID {
			continue
		}
		other, ok := s.Get(lease.TaskID)
		if !ok {
			continue
		}
		for _, mine := range task.Locks {
			for _, theirs := range other.Locks {
				if locksOverlap(mine, theirs) {
					warnings = append(warnings, fmt.Sprintf(
						"lock %q overlaps %q on task %s (claimed by %s)",
						mine, theirs, other.ID, lease.AgentID))
				}
			}
		}
	}
	return warnings, nil
}

// locksOverlap reports whether two lock globs can name the same path.
// Exact match, or either pattern's `/**` prefix covering the other.
func locksOverlap(a, b string) bool {
	return a == b || lockCovers(a, b) || lockCovers(b, a)
}

func lockCovers(pattern, other string) bool {
	base, ok := strings.CutSuffix(pattern, "/**")
	if !ok {
		return false
	}
	other = strings.TrimSuffix(other, "/**")
	return other == base || strings.HasPrefix(other, base+"/")
}

// RenewResult carries the extended lease.
type RenewResult struct {
	Lease *storage.Lease `json:"lease"`

	Warnings []string `json:"-"`
}

// Renew extends the caller's own active lease by ttl from now. An
// expired lease cannot be renewed; that is what Claim is for.
func (e *Engine) Renew(ctx context.Context, taskID, agentID string, ttl time.Duration) (*RenewResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}

	var warnings []string
	if ttl == 0 {
		ttl = e.defaultTTL
	}
	if clamped, moved := clampTTL(ttl); moved {
		warnings = append(warnings, fmt.Sprintf("ttl %s clamped to %s (allowed range %s to %s)",
			ttl, clamped, MinTTL, MaxTTL))
		ttl = clamped
	}

	now := e.now()
	nowStr := clock.Format(now)
	newExpiry := clock.Format(now.Add(ttl))

	var lease *storage.Lease
	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		current, err := tx.ActiveLease(ctx, taskID, nowStr)
		if err != nil {
			return err
		}
		if err := heldBy(current, taskID, agentID); err != nil {
			return err
		}
		if err := tx.SetLeaseExpiry(ctx, current.LeaseID, newExpiry); err != nil {
			return err
		}
		current.ExpiresAt = newExpiry
		lease = current
		return nil
	})
	if err != nil {
		return nil, e.refineLeaseError(err, taskID)
	}

	lease.ExpiresIn = lease.RemainingSeconds(now)
	return &RenewResult{Lease: lease, Warnings: warnings}, nil
}

// ReleaseResult confirms the release.
type ReleaseResult struct {
	TaskID   string `json:"task_id"`
	Released bool   `json:"released"`
}

// Release ends the caller's own active lease by setting its expiry to
// now; the row stays as history. Appends task.released with the
// caller's reason.
func (e *Engine) Release(ctx context.Context, taskID, agentID, reason string) (*ReleaseResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "released"
	}

	nowStr := e.nowString()
	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		current, err := tx.ActiveLease(ctx, taskID, nowStr)
		if err != nil {
			return err
		}
		if err := heldBy(current, taskID, agentID); err != nil {
			return err
		}
		if err := tx.SetLeaseExpiry(ctx, current.LeaseID, nowStr); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    nowStr,
			Type:         storage.EventTaskReleased,
			ActorAgentID: agentID,
			TaskID:       taskID,
			Payload: map[string]any{
				"lease_id": current.LeaseID,
				"reason":   reason,
			},
		})
		return err
	})
	if err != nil {
		return nil, e.refineLeaseError(err, taskID)
	}
	return &ReleaseResult{TaskID: taskID, Released: true}, nil
}

// heldBy verifies that lease is live and held by agentID.
func heldBy(lease *storage.Lease, taskID, agentID string) error {
	if lease == nil {
		return protocol.NewError(protocol.CodeTaskLeaseNotHeld,
			"no active lease on task %s", taskID)
	}
	if lease.AgentID != agentID {
		return protocol.NewError(protocol.CodeTaskLeaseNotHeld,
			"task %s is claimed by %s, not %s", taskID, lease.AgentID, agentID).
			WithDetail("claimed_by", lease.AgentID).
			WithDetail("requested_by", agentID)
	}
	return nil
}

// refineLeaseError upgrades a bare "no active lease" failure on an
// unknown task into TaskNotFound with suggestions. The spec read
// happens only on this error path.
func (e *Engine) refineLeaseError(err error, taskID string) error {
	if !protocol.IsCode(err, protocol.CodeTaskLeaseNotHeld) {
		return err
	}
	coded := protocol.AsError(err)
	if _, mismatch := coded.Details["claimed_by"]; mismatch {
		return err
	}
	s, loadErr := e.spec.Load()
	if loadErr != nil {
		return err
	}
	if _, notFound := getTask(s, taskID); notFound != nil {
		return notFound
	}
	return err
}
