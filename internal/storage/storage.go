// Package storage defines the interface for the runtime plane: agent
// registrations, task leases, inter-agent messages, and the append-only
// event log. Everything behind this interface is local, disposable
// coordination state; the committed task spec lives in internal/spec and
// survives deletion of the runtime database.
package storage

import (
	"context"
	"time"

	"github.com/lodestar-dev/lodestar/internal/clock"
)

// Recipient kinds for messages. Task recipients open a thread keyed by
// the task ID and need not correspond to a spec entry.
const (
	RecipientAgent = "agent"
	RecipientTask  = "task"
)

// ValidRecipientType reports whether t is a recognized recipient kind.
func ValidRecipientType(t string) bool {
	return t == RecipientAgent || t == RecipientTask
}

// Message severities. An empty severity is stored as NULL and read back
// as SeverityInfo.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ValidSeverity reports whether s is a recognized message severity.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// MaxBodyBytes caps message bodies at 16 KiB.
const MaxBodyBytes = 16 * 1024

// Event types form a closed set. Consumers filter on these strings, so
// renaming one is a breaking protocol change.
const (
	EventAgentJoined    = "agent.joined"
	EventAgentLeft      = "agent.left"
	EventAgentHeartbeat = "agent.heartbeat"
	EventTaskClaimed    = "task.claimed"
	EventTaskReleased   = "task.released"
	EventTaskDone       = "task.done"
	EventTaskVerified   = "task.verified"
	EventTaskDeleted    = "task.deleted"
	EventMessageSent    = "message.sent"
	EventMessageRead    = "message.read"
	EventLeaseOrphaned  = "lease.orphaned"
)

// EventTypes lists every event type in a stable order.
var EventTypes = []string{
	EventAgentJoined,
	EventAgentLeft,
	EventAgentHeartbeat,
	EventTaskClaimed,
	EventTaskReleased,
	EventTaskDone,
	EventTaskVerified,
	EventTaskDeleted,
	EventMessageSent,
	EventMessageRead,
	EventLeaseOrphaned,
}

// ValidEventType reports whether t is one of the closed event types.
func ValidEventType(t string) bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Agent is a registered worker. LastSeenAt is empty until the agent
// joins or heartbeats and is cleared again by leave; the row itself
// persists so leases and history keep a stable owner.
type Agent struct {
	AgentID      string            `json:"agent_id"`
	DisplayName  string            `json:"display_name,omitempty"`
	Role         string            `json:"role,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	RegisteredAt string            `json:"registered_at"`
	LastSeenAt   string            `json:"last_seen_at,omitempty"`
	SessionMeta  map[string]string `json:"session_meta,omitempty"`
}

// Active reports whether the agent currently has a presence, i.e. it
// has joined or heartbeat since its last leave.
func (a *Agent) Active() bool {
	return a.LastSeenAt != ""
}

// Lease grants one agent exclusive claim over one task until ExpiresAt.
// Expiry is lazy: rows are never deleted, an expired lease is simply one
// whose expires_at is in the past. Timestamps are RFC3339 UTC, so string
// comparison orders chronologically.
type Lease struct {
	LeaseID   string `json:"lease_id"`
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`

	// ExpiresIn is derived at read time for responses, never stored.
	ExpiresIn int64 `json:"expires_in_seconds,omitempty"`
}

// Active reports whether the lease is live at the given instant.
func (l *Lease) Active(now string) bool {
	return l.ExpiresAt > now
}

// RemainingSeconds returns whole seconds until expiry, zero if already
// expired or unparseable.
func (l *Lease) RemainingSeconds(now time.Time) int64 {
	exp, err := clock.Parse(l.ExpiresAt)
	if err != nil {
		return 0
	}
	left := exp.Sub(now)
	if left < 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Message is one entry in an agent inbox or a task thread. MessageID is
// assigned by the store and increases monotonically, so it doubles as a
// thread cursor.
type Message struct {
	MessageID   int64  `json:"message_id"`
	CreatedAt   string `json:"created_at"`
	FromAgentID string `json:"from_agent_id"`
	ToType      string `json:"to_type"`
	ToID        string `json:"to_id"`
	TaskID      string `json:"task_id,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Body        string `json:"body"`
	ReadAt      string `json:"read_at,omitempty"`
}

// Event is one row of the append-only log. IDs are assigned inside the
// mutating transaction, so pulling events in ID order replays committed
// mutations exactly once each, in commit order.
type Event struct {
	ID            int64          `json:"id"`
	CreatedAt     string         `json:"created_at"`
	Type          string         `json:"type"`
	ActorAgentID  string         `json:"actor_agent_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	TargetAgentID string         `json:"target_agent_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// AgentQuery filters ListAgents. The zero value matches every agent.
type AgentQuery struct {
	ActiveOnly bool   // drop agents whose presence was cleared by leave
	Role       string // exact role match
	Capability string // agents advertising this capability
	Name       string // case-insensitive substring of agent_id or display_name
}

// MessageQuery filters ListMessages. Exactly one of InboxOf and TaskID
// selects the audience; the remaining fields narrow it. Results are
// ordered by message_id, descending unless Ascending is set.
type MessageQuery struct {
	InboxOf     string // messages addressed to this agent
	TaskID      string // messages in this task thread
	FromAgentID string
	UnreadOnly  bool
	Keyword     string // case-insensitive match against subject and body
	Since       string // created_at >= Since (RFC3339)
	Until       string // created_at <= Until (RFC3339)
	SinceID     int64  // message_id > SinceID
	Ascending   bool
	Limit       int // 0 means no limit; callers clamp
}

// RuntimeStats summarizes the runtime plane for status and export.
type RuntimeStats struct {
	Agents         int   `json:"agents"`
	ActiveAgents   int   `json:"active_agents"`
	ActiveLeases   int   `json:"active_leases"`
	Messages       int   `json:"messages"`
	UnreadMessages int   `json:"unread_messages"`
	Events         int64 `json:"events"`
	LastEventID    int64 `json:"last_event_id"`
	SchemaVersion  int   `json:"schema_version"`
}

// Tx exposes the mutating subset of Store within a single database
// transaction. This is what keeps leases and messages honest: they are
// only ever created inside a transaction that also appends the matching
// event, so the log never lies about committed state.
//
// # Transaction semantics
//
//   - All operations share one connection and one transaction
//   - If the callback returns an error or panics, everything rolls back
//   - On a nil return the transaction commits
//   - Writes are invisible to other connections until commit
//
// # Time
//
// The store keeps no clock. Every activeness predicate takes the
// caller's `now` (RFC3339 UTC) and every write carries caller-supplied
// timestamps, so one coordinator request observes a single instant and
// tests can drive expiry deterministically.
//
// # Example
//
//	err := store.RunInTx(ctx, func(tx storage.Tx) error {
//	    ok, err := tx.InsertLease(ctx, lease)
//	    if err != nil {
//	        return err
//	    }
//	    if !ok {
//	        return errAlreadyClaimed // rolls back
//	    }
//	    _, err = tx.AppendEvent(ctx, claimedEvent)
//	    return err // nil commits both rows together
//	})
type Tx interface {
	// Agent operations
	InsertAgent(ctx context.Context, agent *Agent) error
	UpdateAgent(ctx context.Context, agent *Agent) error
	TouchAgent(ctx context.Context, agentID, seenAt string) error
	ClearAgentSeen(ctx context.Context, agentID string) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error) // read-your-writes

	// Lease operations. InsertLease reports false, without error, when
	// the task already has a lease active at lease.CreatedAt; the check
	// and the insert are one atomic statement.
	ActiveLease(ctx context.Context, taskID, now string) (*Lease, error)
	InsertLease(ctx context.Context, lease *Lease) (bool, error)
	SetLeaseExpiry(ctx context.Context, leaseID, expiresAt string) error
	OrphanedLeases(ctx context.Context, now string) ([]*Lease, error)

	// Message operations. MarkMessageRead reports false when the row is
	// missing or already read.
	InsertMessage(ctx context.Context, msg *Message) (int64, error)
	MarkMessageRead(ctx context.Context, messageID int64, readAt string) (bool, error)
	GetMessage(ctx context.Context, messageID int64) (*Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error)

	// AppendEvent assigns and returns the event ID.
	AppendEvent(ctx context.Context, ev *Event) (int64, error)
}

// Store is the read surface plus the transaction entry point for the
// runtime database. Point reads return (nil, nil) when no row matches;
// callers translate that into their own not-found errors.
type Store interface {
	// Agent reads
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context, q AgentQuery) ([]*Agent, error)

	// Lease reads. "Active" always means expires_at > now.
	ActiveLease(ctx context.Context, taskID, now string) (*Lease, error)
	ActiveLeases(ctx context.Context, now string) ([]*Lease, error)
	AgentActiveLeases(ctx context.Context, agentID, now string) ([]*Lease, error)

	// Message reads
	GetMessage(ctx context.Context, messageID int64) (*Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error)

	// Event reads. PullEvents returns events with id > since in
	// ascending ID order, at most limit rows, optionally filtered to
	// the given types.
	PullEvents(ctx context.Context, since int64, limit int, types []string) ([]*Event, error)
	LastEventID(ctx context.Context) (int64, error)

	Stats(ctx context.Context, now string) (*RuntimeStats, error)

	// RunInTx runs fn inside a single write transaction. See Tx.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Path returns the database file path backing this store.
	Path() string
	Close() error
}
