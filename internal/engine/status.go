package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// TaskCounts breaks the spec down by status. Claimable counts tasks an
// agent could claim right now (ready, dependencies verified, no active
// lease), the same set task.next draws from.
type TaskCounts struct {
	Ready     int `json:"ready"`
	Done      int `json:"done"`
	Verified  int `json:"verified"`
	Deleted   int `json:"deleted"`
	Total     int `json:"total"`
	Claimable int `json:"claimable"`
}

// AgentCounts summarizes the roster. Active means seen within the last
// ten minutes; Left means the presence was explicitly cleared by
// agent.leave. The remainder joined once and went quiet.
type AgentCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Left   int `json:"left"`
}

// StatusResult is the repo.status payload: one screen of both planes.
type StatusResult struct {
	Project        string      `json:"project"`
	DefaultBranch  string      `json:"default_branch"`
	SpecPath       string      `json:"spec_path"`
	Tasks          TaskCounts  `json:"tasks"`
	Agents         AgentCounts `json:"agents"`
	LeasesActive   int         `json:"leases_active"`
	MessagesUnread int         `json:"messages_unread"`
	LastEventID    int64       `json:"last_event_id"`
	SchemaVersion  int         `json:"schema_version"`
}

// Status reports repository health at a glance.
func (e *Engine) Status(ctx context.Context) (*StatusResult, error) {
	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	now := e.now()
	stats, err := e.runtime.Stats(ctx, clock.Format(now))
	if err != nil {
		return nil, err
	}
	leases, err := e.activeLeaseIndex(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := e.runtime.ListAgents(ctx, storage.AgentQuery{})
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Project:        s.Project.Name,
		DefaultBranch:  s.Project.DefaultBranch,
		SpecPath:       e.spec.Path(),
		LeasesActive:   stats.ActiveLeases,
		MessagesUnread: stats.UnreadMessages,
		LastEventID:    stats.LastEventID,
		SchemaVersion:  stats.SchemaVersion,
	}

	for _, t := range s.Tasks() {
		result.Tasks.Total++
		switch t.Status {
		case spec.StatusReady:
			result.Tasks.Ready++
		case spec.StatusDone:
			result.Tasks.Done++
		case spec.StatusVerified:
			result.Tasks.Verified++
		case spec.StatusDeleted:
			result.Tasks.Deleted++
		}
		if spec.IsClaimable(t, s) && leases[t.ID] == nil {
			result.Tasks.Claimable++
		}
	}

	cutoff := clock.Format(now.Add(-ActiveWindow))
	result.Agents.Total = len(agents)
	for _, a := range agents {
		switch {
		case !a.Active():
			result.Agents.Left++
		case a.LastSeenAt >= cutoff:
			result.Agents.Active++
		}
	}
	return result, nil
}

// Snapshot is a full JSON dump of both planes, for debugging and
// out-of-band backups. Unlike the spec file it includes runtime state,
// and unlike the runtime database it is readable in a pager.
type Snapshot struct {
	GeneratedAt    string           `json:"generated_at"`
	Project        string           `json:"project"`
	DefaultBranch  string           `json:"default_branch"`
	Tasks          []*TaskView      `json:"tasks"`
	Agents         []*storage.Agent `json:"agents"`
	ActiveLeases   []*storage.Lease `json:"active_leases"`
	UnreadMessages int              `json:"unread_messages"`
	LastEventID    int64            `json:"last_event_id"`
	WrittenTo      string           `json:"written_to,omitempty"`
}

// Export assembles a snapshot and, when out is non-empty, writes it to
// that path as indented JSON.
func (e *Engine) Export(ctx context.Context, out string) (*Snapshot, error) {
	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	nowStr := e.nowString()
	stats, err := e.runtime.Stats(ctx, nowStr)
	if err != nil {
		return nil, err
	}
	leases, err := e.runtime.ActiveLeases(ctx, nowStr)
	if err != nil {
		return nil, err
	}
	agents, err := e.runtime.ListAgents(ctx, storage.AgentQuery{})
	if err != nil {
		return nil, err
	}

	leaseIndex := make(map[string]*storage.Lease, len(leases))
	for _, l := range leases {
		l.ExpiresIn = l.RemainingSeconds(e.now())
		leaseIndex[l.TaskID] = l
	}
	snap := &Snapshot{
		GeneratedAt:    nowStr,
		Project:        s.Project.Name,
		DefaultBranch:  s.Project.DefaultBranch,
		Agents:         agents,
		ActiveLeases:   leases,
		UnreadMessages: stats.UnreadMessages,
		LastEventID:    stats.LastEventID,
	}
	for _, t := range s.Tasks() {
		snap.Tasks = append(snap.Tasks, e.taskView(s, t, leaseIndex[t.ID]))
	}

	if out != "" {
		abs, err := filepath.Abs(out)
		if err != nil {
			return nil, fmt.Errorf("resolving snapshot path %s: %w", out, err)
		}
		snap.WrittenTo = abs
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding snapshot: %w", err)
		}
		if err := os.WriteFile(abs, append(data, '\n'), 0o644); err != nil {
			return nil, fmt.Errorf("writing snapshot: %w", err)
		}
	}
	return snap, nil
}
