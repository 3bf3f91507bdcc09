package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/storage"
)

const eventColumns = `id, created_at, type, actor_agent_id, task_id, target_agent_id, payload`

func scanEvent(row rowScanner) (*storage.Event, error) {
	var (
		ev      storage.Event
		actor   sql.NullString
		taskID  sql.NullString
		target  sql.NullString
		payload string
	)
	err := row.Scan(&ev.ID, &ev.CreatedAt, &ev.Type, &actor, &taskID, &target, &payload)
	if err != nil {
		return nil, err
	}
	ev.ActorAgentID = actor.String
	ev.TaskID = taskID.String
	ev.TargetAgentID = target.String
	if payload != "" && payload != "{}" {
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of event %d: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// AppendEvent writes one log row and fills in the assigned ID. IDs come
// from AUTOINCREMENT inside the surrounding transaction, which is what
// makes the log replayable in commit order.
func (t *runtimeTx) AppendEvent(ctx context.Context, ev *storage.Event) (int64, error) {
	payload := "{}"
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event payload: %w", err)
		}
		payload = string(raw)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (created_at, type, actor_agent_id, task_id, target_agent_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.CreatedAt, ev.Type,
		nullString(ev.ActorAgentID), nullString(ev.TaskID), nullString(ev.TargetAgentID), payload)
	if err != nil {
		return 0, fmt.Errorf("failed to append %s event: %w", ev.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	ev.ID = id
	return id, nil
}

// PullEvents returns events with id > since in ascending ID order, up
// to limit rows (limit <= 0 means unbounded; callers clamp), optionally
// restricted to the given types.
func (s *SQLiteStore) PullEvents(ctx context.Context, since int64, limit int, types []string) ([]*storage.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id > ?`
	args := []any{since}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(", ?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to pull events: %w", err))
	}
	defer rows.Close()

	var events []*storage.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to scan event: %w", err))
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating events: %w", err))
	}
	return events, nil
}

// LastEventID returns the highest assigned event ID, zero on an empty
// log.
func (s *SQLiteStore) LastEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to read last event id: %w", err))
	}
	return id, nil
}
