package engine

import (
	"context"
	"fmt"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// Inbox and thread pages default to 50 messages and never exceed 200;
// callers page with since/until rather than raising the limit.
const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

func clampMessageLimit(limit int) int {
	if limit <= 0 {
		return defaultMessageLimit
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}

// SendArgs addresses one message. ToType selects the audience: an
// agent inbox (the recipient must be registered) or a task thread
// (any ID is a valid thread, spec entry or not, so context can be
// attached to work that does not exist yet). TaskID cross-references
// a task from an agent-addressed message.
type SendArgs struct {
	FromAgentID string `json:"from_agent_id"`
	ToType      string `json:"to_type"`
	ToID        string `json:"to_id"`
	Subject     string `json:"subject,omitempty"`
	Severity    string `json:"severity,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Body        string `json:"body"`
}

// SendResult is the msg.send payload.
type SendResult struct {
	Message *storage.Message `json:"message"`
}

// SendMessage validates, inserts the row, and appends message.sent in
// one runtime transaction.
func (e *Engine) SendMessage(ctx context.Context, args SendArgs) (*SendResult, error) {
	if _, err := e.requireAgent(ctx, args.FromAgentID); err != nil {
		return nil, err
	}
	if !storage.ValidRecipientType(args.ToType) {
		return nil, protocol.Invalid("to_type", `must be "agent" or "task"`)
	}
	if args.ToID == "" {
		return nil, protocol.Invalid("to_id", "is required")
	}
	if args.Body == "" {
		return nil, protocol.Invalid("body", "is required")
	}
	if len(args.Body) > storage.MaxBodyBytes {
		return nil, protocol.NewError(protocol.CodeMessageTooLarge,
			"message body is %d bytes; the limit is %d", len(args.Body), storage.MaxBodyBytes).
			WithDetail("size_bytes", len(args.Body)).
			WithDetail("max_bytes", storage.MaxBodyBytes)
	}
	if args.Severity == "" {
		args.Severity = storage.SeverityInfo
	} else if !storage.ValidSeverity(args.Severity) {
		return nil, protocol.Invalid("severity", "must be one of info, warning, critical")
	}
	if args.ToType == storage.RecipientAgent {
		recipient, err := e.runtime.GetAgent(ctx, args.ToID)
		if err != nil {
			return nil, err
		}
		if recipient == nil {
			return nil, protocol.NewError(protocol.CodeMessageRecipientInvalid,
				"recipient agent %s is not registered", args.ToID).
				WithDetail("to_id", args.ToID)
		}
	}

	taskRef := args.TaskID
	if args.ToType == storage.RecipientTask {
		taskRef = args.ToID
	}

	now := e.nowString()
	msg := &storage.Message{
		CreatedAt:   now,
		FromAgentID: args.FromAgentID,
		ToType:      args.ToType,
		ToID:        args.ToID,
		TaskID:      taskRef,
		Subject:     args.Subject,
		Severity:    args.Severity,
		Body:        args.Body,
	}
	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		id, err := tx.InsertMessage(ctx, msg)
		if err != nil {
			return err
		}
		ev := &storage.Event{
			CreatedAt:    now,
			Type:         storage.EventMessageSent,
			ActorAgentID: args.FromAgentID,
			TaskID:       taskRef,
			Payload: map[string]any{
				"message_id": id,
				"to_type":    args.ToType,
				"to_id":      args.ToID,
			},
		}
		if args.ToType == storage.RecipientAgent {
			ev.TargetAgentID = args.ToID
		}
		_, err = tx.AppendEvent(ctx, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: msg}, nil
}

// InboxArgs pages an agent's inbox, newest first.
type InboxArgs struct {
	AgentID     string
	UnreadOnly  bool
	FromAgentID string
	Since       string
	Until       string
	Limit       int

	// MarkRead stamps every returned unread message inside the same
	// transaction, emitting message.read for each.
	MarkRead bool
}

// InboxResult is the msg.inbox payload.
type InboxResult struct {
	Messages   []*storage.Message `json:"messages"`
	Count      int                `json:"count"`
	MarkedRead int                `json:"marked_read"`
}

// Inbox lists messages addressed to the agent, message_id descending.
func (e *Engine) Inbox(ctx context.Context, args InboxArgs) (*InboxResult, error) {
	if _, err := e.requireAgent(ctx, args.AgentID); err != nil {
		return nil, err
	}
	if err := validateTimeRange(args.Since, args.Until); err != nil {
		return nil, err
	}

	q := storage.MessageQuery{
		InboxOf:     args.AgentID,
		FromAgentID: args.FromAgentID,
		UnreadOnly:  args.UnreadOnly,
		Since:       args.Since,
		Until:       args.Until,
		Limit:       clampMessageLimit(args.Limit),
	}

	if !args.MarkRead {
		messages, err := e.runtime.ListMessages(ctx, q)
		if err != nil {
			return nil, err
		}
		return &InboxResult{Messages: messages, Count: len(messages)}, nil
	}

	// Retrieval and read-marking share one transaction so a crash
	// cannot deliver a page without recording the reads.
	now := e.nowString()
	var (
		messages []*storage.Message
		marked   int
	)
	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		var err error
		messages, err = tx.ListMessages(ctx, q)
		if err != nil {
			return err
		}
		marked = 0
		for _, msg := range messages {
			if msg.ReadAt != "" {
				continue
			}
			ok, err := tx.MarkMessageRead(ctx, msg.MessageID, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			msg.ReadAt = now
			marked++
			_, err = tx.AppendEvent(ctx, &storage.Event{
				CreatedAt:    now,
				Type:         storage.EventMessageRead,
				ActorAgentID: args.AgentID,
				TaskID:       msg.TaskID,
				Payload:      map[string]any{"message_id": msg.MessageID},
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
	return &InboxResult{Messages: messages, Count: len(messages), MarkedRead: marked}, nil
}

// ThreadResult is the msg.thread payload: the conversation attached to
// one task ID, oldest first.
type ThreadResult struct {
	TaskID   string             `json:"task_id"`
	Messages []*storage.Message `json:"messages"`
	Count    int                `json:"count"`
}

// Thread lists a task thread ascending. The task need not exist in the
// spec; threads outlive deletions and may predate creation.
func (e *Engine) Thread(ctx context.Context, taskID, since string, limit int) (*ThreadResult, error) {
	if taskID == "" {
		return nil, protocol.Invalid("task_id", "is required")
	}
	if err := validateTimeRange(since, ""); err != nil {
		return nil, err
	}
	messages, err := e.runtime.ListMessages(ctx, storage.MessageQuery{
		TaskID:    taskID,
		Since:     since,
		Ascending: true,
		Limit:     clampMessageLimit(limit),
	})
	if err != nil {
		return nil, err
	}
	return &ThreadResult{TaskID: taskID, Messages: messages, Count: len(messages)}, nil
}

// SearchArgs filters the whole message table. At least one predicate
// is required; an unfiltered dump is never useful and usually a typo.
type SearchArgs struct {
	Keyword     string
	FromAgentID string
	Since       string
	Until       string
	Limit       int
}

// SearchResult is the msg.search payload.
type SearchResult struct {
	Messages []*storage.Message `json:"messages"`
	Count    int                `json:"count"`
}

// SearchMessages matches keyword case-insensitively against subject
// and body, newest first.
func (e *Engine) SearchMessages(ctx context.Context, args SearchArgs) (*SearchResult, error) {
	if args.Keyword == "" && args.FromAgentID == "" && args.Since == "" && args.Until == "" {
		return nil, protocol.Invalid("query", "at least one of keyword, from, since, until is required")
	}
	if err := validateTimeRange(args.Since, args.Until); err != nil {
		return nil, err
	}
	messages, err := e.runtime.ListMessages(ctx, storage.MessageQuery{
		Keyword:     args.Keyword,
		FromAgentID: args.FromAgentID,
		Since:       args.Since,
		Until:       args.Until,
		Limit:       clampMessageLimit(args.Limit),
	})
	if err != nil {
		return nil, err
	}
	return &SearchResult{Messages: messages, Count: len(messages)}, nil
}

// AckResult is the msg.ack payload.
type AckResult struct {
	MessageID int64  `json:"message_id"`
	ReadAt    string `json:"read_at"`
}

// Ack marks one message read. Only the addressee may ack; acking an
// already-read message is a no-op that returns the original read
// timestamp, so retries are safe.
func (e *Engine) Ack(ctx context.Context, agentID string, messageID int64) (*AckResult, error) {
	if _, err := e.requireAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if messageID <= 0 {
		return nil, protocol.Invalid("message_id", "is required")
	}

	now := e.nowString()
	result := &AckResult{MessageID: messageID, ReadAt: now}
	err := e.runtime.RunInTx(ctx, func(tx storage.Tx) error {
		msg, err := tx.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg == nil {
			return protocol.Invalid("message_id", fmt.Sprintf("message %d does not exist", messageID))
		}
		if msg.ToType != storage.RecipientAgent || msg.ToID != agentID {
			return protocol.NewError(protocol.CodeMessageRecipientInvalid,
				"message %d is not addressed to %s", messageID, agentID).
				WithDetail("to_type", msg.ToType).
				WithDetail("to_id", msg.ToID)
		}
		if msg.ReadAt != "" {
			result.ReadAt = msg.ReadAt
			return nil
		}
		if _, err := tx.MarkMessageRead(ctx, messageID, now); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ctx, &storage.Event{
			CreatedAt:    now,
			Type:         storage.EventMessageRead,
			ActorAgentID: agentID,
			TaskID:       msg.TaskID,
			Payload:      map[string]any{"message_id": messageID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateTimeRange rejects unparseable since/until bounds before they
// silently match nothing in string comparisons.
func validateTimeRange(since, until string) error {
	if since != "" {
		if _, err := clock.Parse(since); err != nil {
			return protocol.Invalid("since", "must be an RFC3339 timestamp")
		}
	}
	if until != "" {
		if _, err := clock.Parse(until); err != nil {
			return protocol.Invalid("until", "must be an RFC3339 timestamp")
		}
	}
	return nil
}
