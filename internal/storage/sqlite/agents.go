package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/storage"
)

const agentColumns = `agent_id, display_name, role, capabilities, registered_at, last_seen_at, session_meta`

// querier is satisfied by *sql.DB and *sql.Tx so the same query
// implementations back both the store reads and the transactional
// read-your-writes variants.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanAgent(row rowScanner) (*storage.Agent, error) {
	var (
		agent        storage.Agent
		capabilities string
		lastSeen     sql.NullString
		sessionMeta  string
	)
	err := row.Scan(
		&agent.AgentID, &agent.DisplayName, &agent.Role, &capabilities,
		&agent.RegisteredAt, &lastSeen, &sessionMeta,
	)
	if err != nil {
		return nil, err
	}
	if agent.Capabilities, err = decodeStringList(capabilities); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		agent.LastSeenAt = lastSeen.String
	}
	if agent.SessionMeta, err = decodeStringMap(sessionMeta); err != nil {
		return nil, err
	}
	return &agent, nil
}

func getAgent(ctx context.Context, q querier, agentID string) (*storage.Agent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load agent %s: %w", agentID, err))
	}
	return agent, nil
}

// GetAgent returns the agent row, or (nil, nil) when unregistered.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	return getAgent(ctx, s.db, agentID)
}

// ListAgents returns agents matching the query, ordered by
// registration time then ID for stable output.
func (s *SQLiteStore) ListAgents(ctx context.Context, q storage.AgentQuery) ([]*storage.Agent, error) {
	var (
		where []string
		args  []any
	)
	if q.ActiveOnly {
		where = append(where, `last_seen_at IS NOT NULL AND last_seen_at != ''`)
	}
	if q.Role != "" {
		where = append(where, `role = ?`)
		args = append(args, q.Role)
	}
	if q.Capability != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(agents.capabilities) WHERE json_each.value = ?)`)
		args = append(args, q.Capability)
	}
	if q.Name != "" {
		where = append(where, `(LOWER(agent_id) LIKE ? OR LOWER(display_name) LIKE ?)`)
		pattern := "%" + strings.ToLower(q.Name) + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY registered_at, agent_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list agents: %w", err))
	}
	defer rows.Close()

	var agents []*storage.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to scan agent: %w", err))
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating agents: %w", err))
	}
	return agents, nil
}

func (t *runtimeTx) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	return getAgent(ctx, t.tx, agentID)
}

func (t *runtimeTx) InsertAgent(ctx context.Context, agent *storage.Agent) error {
	capabilities, err := encodeStringList(agent.Capabilities)
	if err != nil {
		return err
	}
	sessionMeta, err := encodeStringMap(agent.SessionMeta)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO agents (agent_id, display_name, role, capabilities, registered_at, last_seen_at, session_meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, agent.AgentID, agent.DisplayName, agent.Role, capabilities,
		agent.RegisteredAt, nullString(agent.LastSeenAt), sessionMeta)
	if err != nil {
		return fmt.Errorf("failed to insert agent %s: %w", agent.AgentID, err)
	}
	return nil
}

// UpdateAgent refreshes the mutable profile fields. RegisteredAt is
// immutable once the row exists.
func (t *runtimeTx) UpdateAgent(ctx context.Context, agent *storage.Agent) error {
	capabilities, err := encodeStringList(agent.Capabilities)
	if err != nil {
		return err
	}
	sessionMeta, err := encodeStringMap(agent.SessionMeta)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE agents
		SET display_name = ?, role = ?, capabilities = ?, last_seen_at = ?, session_meta = ?
		WHERE agent_id = ?
	`, agent.DisplayName, agent.Role, capabilities,
		nullString(agent.LastSeenAt), sessionMeta, agent.AgentID)
	if err != nil {
		return fmt.Errorf("failed to update agent %s: %w", agent.AgentID, err)
	}
	return expectOneRow(res, "agent", agent.AgentID)
}

func (t *runtimeTx) TouchAgent(ctx context.Context, agentID, seenAt string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE agents SET last_seen_at = ? WHERE agent_id = ?
	`, seenAt, agentID)
	if err != nil {
		return fmt.Errorf("failed to touch agent %s: %w", agentID, err)
	}
	return expectOneRow(res, "agent", agentID)
}

func (t *runtimeTx) ClearAgentSeen(ctx context.Context, agentID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE agents SET last_seen_at = NULL WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return fmt.Errorf("failed to clear agent %s presence: %w", agentID, err)
	}
	return expectOneRow(res, "agent", agentID)
}

func expectOneRow(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
