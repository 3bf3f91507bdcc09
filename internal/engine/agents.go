package engine

import (
	"context"
	"fmt"

	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// JoinArgs registers an agent. AgentID is normally left empty and
// minted by the engine; a caller reclaiming a stable identity across
// sessions may request one explicitly.
type JoinArgs struct {
	AgentID      string            `json:"agent_id,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	Role         string            `json:"role,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	SessionMeta  map[string]string `json:"session_meta,omitempty"`
}

// JoinResult carries the newly registered agent.
type JoinResult struct {
	Agent *storage.Agent `json:"agent"`
}

// Join registers a new agent and appends agent.joined. When the caller
// names a role with no explicit capabilities, the matching preset from
// roles.toml fills them in.
func (e *Engine) Join(ctx context.Context, args JoinArgs) (*JoinResult, error) {
	agentID := args.AgentID
	if agentID == "" {
		agentID = newAgentID()
	}
	capabilities := args.Capabilities
	if len(capabilities) == 0 && args.Role != "" {
		capabilities = e.roles.Capabilities(args.Role)
	}

	now := e.nowString()
	agent := &storage.Agent{
		AgentID:      agentID,
		DisplayName:  args.DisplayName,
		Role:         args.Role,
		Capabilities: capabilities,
		RegisteredAt: now,
		LastSeenAt:   now,
		SessionMeta:  args.SessionMeta,
	}

	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		existing, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return protocol.NewError(protocol.CodeAgentAlreadyExists,
				"agent %s is already registered", agentID)
		}
		if err := tx.InsertAgent(ctx, agent); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    now,
			Type:         storage.EventAgentJoined,
			ActorAgentID: agentID,
			Payload: map[string]any{
				"display_name": agent.DisplayName,
				"role":         agent.Role,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &JoinResult{Agent: agent}, nil
}

// AgentListResult is the shared response shape of agent.list and
// agent.find.
type AgentListResult struct {
	Agents []*storage.Agent `json:"agents"`
	Count  int              `json:"count"`
}

// ListAgents returns registered agents, optionally only those with a
// live presence.
func (e *Engine) ListAgents(ctx context.Context, activeOnly bool) (*AgentListResult, error) {
	agents, err := e.runtime.ListAgents(ctx, storage.AgentQuery{ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}
	return &AgentListResult{Agents: agents, Count: len(agents)}, nil
}

// FindAgents matches agents by display name substring (case
// insensitive), exact role, or advertised capability. At least one
// predicate is required.
func (e *Engine) FindAgents(ctx context.Context, name, role, capability string) (*AgentListResult, error) {
	if name == "" && role == "" && capability == "" {
		return nil, protocol.Invalid("query", "at least one of name, role, capability is required")
	}
	agents, err := e.runtime.ListAgents(ctx, storage.AgentQuery{
		Name:       name,
		Role:       role,
		Capability: capability,
	})
	if err != nil {
		return nil, err
	}
	return &AgentListResult{Agents: agents, Count: len(agents)}, nil
}

// HeartbeatResult echoes the refreshed presence timestamp.
type HeartbeatResult struct {
	AgentID    string `json:"agent_id"`
	LastSeenAt string `json:"last_seen_at"`
}

// Heartbeat refreshes last_seen_at and appends agent.heartbeat. It
// deliberately does not extend the agent's leases; renewing a claim is
// an explicit act on the task, not a side effect of being alive.
func (e *Engine) Heartbeat(ctx context.Context, agentID string) (*HeartbeatResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}
	now := e.nowString()
	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.TouchAgent(ctx, agentID, now); err != nil {
			return err
		}
		_, err := tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    now,
			Type:         storage.EventAgentHeartbeat,
			ActorAgentID: agentID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &HeartbeatResult{AgentID: agentID, LastSeenAt: now}, nil
}

// LeaveResult confirms the presence reset.
type LeaveResult struct {
	AgentID string `json:"agent_id"`
	Left    bool   `json:"left"`
	// HeldTaskIDs are tasks the agent still holds a live lease on.
	// Leaving does not release them; they lapse on their own schedule.
	HeldTaskIDs []string `json:"held_task_ids,omitempty"`

	Warnings []string `json:"-"`
}

// Leave clears the agent's presence and appends agent.left. The row
// stays: leases and events keep a stable owner, and the agent can
// heartbeat back in. Held leases are untouched and lapse on their own.
func (e *Engine) Leave(ctx context.Context, agentID string) (*LeaveResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}
	now := e.nowString()
	held, err := e.runtime.AgentActiveLeases(ctx, agentID, now)
	if err != nil {
		return nil, err
	}
	err = e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.ClearAgentSeen(ctx, agentID); err != nil {
			return err
		}
		_, err := tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    now,
			Type:         storage.EventAgentLeft,
			ActorAgentID: agentID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	res := &LeaveResult{AgentID: agentID, Left: true}
	for _, l := range held {
		res.HeldTaskIDs = append(res.HeldTaskIDs, l.TaskID)
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("still holding %s, the lease lapses at %s", l.TaskID, l.ExpiresAt))
	}
	return res, nil
}
