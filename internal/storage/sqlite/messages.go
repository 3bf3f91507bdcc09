package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/storage"
)

const messageColumns = `message_id, created_at, from_agent_id, to_type, to_id, task_id, subject, severity, body, read_at`

func scanMessage(row rowScanner) (*storage.Message, error) {
	var (
		msg      storage.Message
		taskID   sql.NullString
		subject  sql.NullString
		severity sql.NullString
		readAt   sql.NullString
	)
	err := row.Scan(
		&msg.MessageID, &msg.CreatedAt, &msg.FromAgentID, &msg.ToType, &msg.ToID,
		&taskID, &subject, &severity, &msg.Body, &readAt,
	)
	if err != nil {
		return nil, err
	}
	msg.TaskID = taskID.String
	msg.Subject = subject.String
	msg.Severity = severity.String
	if msg.Severity == "" {
		msg.Severity = storage.SeverityInfo
	}
	msg.ReadAt = readAt.String
	return &msg, nil
}

func buildMessageQuery(q storage.MessageQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	switch {
	case q.InboxOf != "":
		where = append(where, `to_type = ? AND to_id = ?`)
		args = append(args, storage.RecipientAgent, q.InboxOf)
	case q.TaskID != "":
		where = append(where, `to_type = ? AND to_id = ?`)
		args = append(args, storage.RecipientTask, q.TaskID)
	}
	if q.FromAgentID != "" {
		where = append(where, `from_agent_id = ?`)
		args = append(args, q.FromAgentID)
	}
	if q.UnreadOnly {
		where = append(where, `read_at IS NULL`)
	}
	if q.Keyword != "" {
		where = append(where, `(LOWER(body) LIKE ? OR LOWER(COALESCE(subject, '')) LIKE ?)`)
		pattern := "%" + strings.ToLower(q.Keyword) + "%"
		args = append(args, pattern, pattern)
	}
	if q.Since != "" {
		where = append(where, `created_at >= ?`)
		args = append(args, q.Since)
	}
	if q.Until != "" {
		where = append(where, `created_at <= ?`)
		args = append(args, q.Until)
	}
	if q.SinceID > 0 {
		where = append(where, `message_id > ?`)
		args = append(args, q.SinceID)
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if q.Ascending {
		query += ` ORDER BY message_id ASC`
	} else {
		query += ` ORDER BY message_id DESC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return query, args
}

func listMessages(ctx context.Context, q querier, mq storage.MessageQuery) ([]*storage.Message, error) {
	query, args := buildMessageQuery(mq)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list messages: %w", err))
	}
	defer rows.Close()

	var messages []*storage.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to scan message: %w", err))
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating messages: %w", err))
	}
	return messages, nil
}

func getMessage(ctx context.Context, q querier, messageID int64) (*storage.Message, error) {
	row := q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load message %d: %w", messageID, err))
	}
	return msg, nil
}

// GetMessage returns one message, or (nil, nil) when it does not exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID int64) (*storage.Message, error) {
	return getMessage(ctx, s.db, messageID)
}

// ListMessages returns messages matching the query; see
// storage.MessageQuery for ordering and audience rules.
func (s *SQLiteStore) ListMessages(ctx context.Context, q storage.MessageQuery) ([]*storage.Message, error) {
	return listMessages(ctx, s.db, q)
}

func (t *runtimeTx) GetMessage(ctx context.Context, messageID int64) (*storage.Message, error) {
	return getMessage(ctx, t.tx, messageID)
}

func (t *runtimeTx) ListMessages(ctx context.Context, q storage.MessageQuery) ([]*storage.Message, error) {
	return listMessages(ctx, t.tx, q)
}

// InsertMessage writes the row and fills in the assigned message ID.
func (t *runtimeTx) InsertMessage(ctx context.Context, msg *storage.Message) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (created_at, from_agent_id, to_type, to_id, task_id, subject, severity, body, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, msg.CreatedAt, msg.FromAgentID, msg.ToType, msg.ToID,
		nullString(msg.TaskID), nullString(msg.Subject), nullString(msg.Severity), msg.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read message id: %w", err)
	}
	msg.MessageID = id
	return id, nil
}

// MarkMessageRead stamps read_at once. It reports false when the row is
// missing or was already read, so repeated acks stay idempotent.
func (t *runtimeTx) MarkMessageRead(ctx context.Context, messageID int64, readAt string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE messages SET read_at = ? WHERE message_id = ? AND read_at IS NULL
	`, readAt, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message %d read: %w", messageID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}
