// Package engine is the coordinator: the one component through which
// callers read and mutate both planes. It owns the canonical ordering
// (spec lock first, then runtime transaction), the task state machine,
// and the rule that every runtime mutation appends its events inside
// the same transaction. The CLI and the stdio adapter are thin shells
// over this package; they add no semantics of their own.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/roles"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage"
	"github.com/lodestar-dev/lodestar/internal/storage/sqlite"
)

// Version is the engine version reported by health.check and compared
// (major component) against a caller-supplied client version.
const Version = "0.1.0"

// Lease TTL bounds. Requests outside the window are clamped, with a
// warning, rather than rejected: an agent asking for 24h gets 2h and
// renews.
const (
	MinTTL     = time.Minute
	MaxTTL     = 2 * time.Hour
	DefaultTTL = 15 * time.Minute
)

// ActiveWindow is how recent a heartbeat must be for repo.status to
// count an agent as active. Presence older than this is stale but the
// agent has not left.
const ActiveWindow = 10 * time.Minute

// Options tunes engine construction. The zero value is production
// behavior: system clock, default lock timeout, default lease TTL.
type Options struct {
	Clock       clock.Clock   // nil means the system clock
	LockTimeout time.Duration // 0 means spec.DefaultLockTimeout
	DefaultTTL  time.Duration // 0 means DefaultTTL; clamped like any TTL
}

// Engine coordinates the committed spec plane and the local runtime
// plane for one repository. It is safe for concurrent use within a
// process; cross-process safety comes from the spec file lock and the
// runtime store's write serialization, re-acquired per request.
type Engine struct {
	root       paths.Root
	spec       *spec.Store
	runtime    storage.Store
	roles      *roles.Set
	clk        clock.Clock
	defaultTTL time.Duration
}

// Open builds an engine over an initialized repository: it opens (and
// migrates) the runtime database, loads role presets, and runs orphan
// cleanup, expiring every active lease whose agent row has vanished
// and appending a lease.orphaned event per lease.
func Open(ctx context.Context, root paths.Root, opts Options) (*Engine, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	ttl, _ = clampTTL(ttl)

	var specOpts []spec.StoreOption
	if opts.LockTimeout > 0 {
		specOpts = append(specOpts, spec.WithLockTimeout(opts.LockTimeout))
	}

	runtime, err := sqlite.New(ctx, root.RuntimePath())
	if err != nil {
		return nil, fmt.Errorf("opening runtime store: %w", err)
	}

	presets, err := roles.Load(root.RolesPath())
	if err != nil {
		runtime.Close()
		return nil, err
	}

	e := &Engine{
		root:       root,
		spec:       spec.NewStore(root, clk, specOpts...),
		runtime:    runtime,
		roles:      presets,
		clk:        clk,
		defaultTTL: ttl,
	}
	if err := e.cleanupOrphans(ctx); err != nil {
		runtime.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the runtime database handle.
func (e *Engine) Close() error {
	return e.runtime.Close()
}

// Root returns the repository anchor this engine coordinates.
func (e *Engine) Root() paths.Root { return e.root }

// Runtime exposes the runtime store for read-side adapters (the events
// watcher polls it between filesystem notifications).
func (e *Engine) Runtime() storage.Store { return e.runtime }

func (e *Engine) now() time.Time    { return e.clk.Now() }
func (e *Engine) nowString() string { return clock.Format(e.clk.Now()) }

// cleanupOrphans expires every active lease held by an agent that no
// longer exists. Runs once per engine construction; between runs the
// scheduler's join against agents keeps orphaned claims from blocking
// anything for longer than their TTL anyway.
func (e *Engine) cleanupOrphans(ctx context.Context) error {
	now := e.nowString()
	return e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		orphans, err := tx.OrphanedLeases(ctx, now)
		if err != nil {
			return err
		}
		for _, lease := range orphans {
			if err := tx.SetLeaseExpiry(ctx, lease.LeaseID, now); err != nil {
				return err
			}
			_, err := tx.AppendEvent(ctx, &storage.Event{
				CreatedAt:     now,
				Type:          storage.EventLeaseOrphaned,
				TaskID:        lease.TaskID,
				TargetAgentID: lease.AgentID,
				Payload: map[string]any{
					"lease_id": lease.LeaseID,
					"agent_id": lease.AgentID,
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// newAgentID and newLeaseID mint prefixed 8-hex-digit tokens. Random,
// not sequential: IDs must not collide across independent runtime
// databases that later share an event stream.
func newAgentID() string { return newToken("A") }
func newLeaseID() string { return newToken("L") }

func newToken(prefix string) string {
	u := uuid.New()
	return prefix + strings.ToUpper(hex.EncodeToString(u[:4]))
}

// clampTTL forces d into [MinTTL, MaxTTL] and reports whether it had
// to move.
func clampTTL(d time.Duration) (time.Duration, bool) {
	switch {
	case d < MinTTL:
		return MinTTL, true
	case d > MaxTTL:
		return MaxTTL, true
	}
	return d, false
}

// requireAgent resolves agentID to a registered agent or fails with
// AgentNotRegistered. Every authenticated operation goes through here.
func (e *Engine) requireAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	if agentID == "" {
		return nil, protocol.Invalid("agent_id", "is required (join first, then pass --agent or set LODESTAR_AGENT_ID)")
	}
	agent, err := e.runtime.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, protocol.NewError(protocol.CodeAgentNotRegistered,
			"agent %s is not registered (run 'lodestar agent join')", agentID)
	}
	return agent, nil
}

// TaskView is a spec task enriched with what the runtime plane knows:
// whether it is claimable right now and who, if anyone, holds it. This
// is the task shape every operation returns.
type TaskView struct {
	*spec.Task
	Claimable bool           `json:"claimable"`
	Lease     *storage.Lease `json:"lease,omitempty"`
}

// taskView assembles the response shape for one task. A lease, when
// present, gets its remaining seconds derived against the engine clock.
func (e *Engine) taskView(s *spec.Spec, t *spec.Task, lease *storage.Lease) *TaskView {
	if lease != nil {
		lease.ExpiresIn = lease.RemainingSeconds(e.now())
	}
	return &TaskView{
		Task:      t.Clone(),
		Claimable: spec.IsClaimable(t, s) && lease == nil,
		Lease:     lease,
	}
}

// getTask resolves id in s or fails with TaskNotFound carrying
// did-you-mean suggestions for near-miss IDs.
func getTask(s *spec.Spec, id string) (*spec.Task, error) {
	if id == "" {
		return nil, protocol.Invalid("task_id", "is required")
	}
	t, ok := s.Get(id)
	if !ok {
		err := protocol.NewError(protocol.CodeTaskNotFound, "task %s not found", id)
		if suggestions := suggestTaskIDs(s, id); len(suggestions) > 0 {
			err = err.WithDetail("did_you_mean", suggestions)
		}
		return nil, err
	}
	return t, nil
}
