// Package protocol defines the wire surface of the coordination
// engine: the stable operation names, the uniform result envelope, the
// closed error-code set, and the request shape used by the stdio
// adapter. Both the CLI and the serve adapter speak these types; the
// engine returns them so every caller sees identical payloads.
package protocol

import "encoding/json"

// Operation constants. These names are stable across adapters and
// match the subcommand tree one-to-one.
const (
	OpRepoStatus = "repo.status"

	OpAgentJoin      = "agent.join"
	OpAgentList      = "agent.list"
	OpAgentFind      = "agent.find"
	OpAgentHeartbeat = "agent.heartbeat"
	OpAgentLeave     = "agent.leave"

	OpTaskList     = "task.list"
	OpTaskGet      = "task.get"
	OpTaskNext     = "task.next"
	OpTaskCreate   = "task.create"
	OpTaskUpdate   = "task.update"
	OpTaskDelete   = "task.delete"
	OpTaskClaim    = "task.claim"
	OpTaskRenew    = "task.renew"
	OpTaskRelease  = "task.release"
	OpTaskDone     = "task.done"
	OpTaskVerify   = "task.verify"
	OpTaskComplete = "task.complete"
	OpTaskContext  = "task.context"
	OpTaskGraph    = "task.graph"

	OpMessageSend   = "message.send"
	OpMessageList   = "message.list"
	OpMessageThread = "message.thread"
	OpMessageSearch = "message.search"
	OpMessageAck    = "message.ack"

	OpEventsPull = "events.pull"

	OpExportSnapshot = "export.snapshot"
	OpHealthCheck    = "health.check"
	OpInit           = "init"
)

// Operations lists every stable operation name in documentation order.
var Operations = []string{
	OpRepoStatus,
	OpAgentJoin, OpAgentList, OpAgentFind, OpAgentHeartbeat, OpAgentLeave,
	OpTaskList, OpTaskGet, OpTaskNext, OpTaskCreate, OpTaskUpdate,
	OpTaskDelete, OpTaskClaim, OpTaskRenew, OpTaskRelease, OpTaskDone,
	OpTaskVerify, OpTaskComplete, OpTaskContext, OpTaskGraph,
	OpMessageSend, OpMessageList, OpMessageThread, OpMessageSearch,
	OpMessageAck,
	OpEventsPull,
	OpExportSnapshot, OpHealthCheck, OpInit,
}

// Request is one frame on the stdio adapter: a JSON object per line.
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args,omitempty"`
	Actor         string          `json:"actor,omitempty"`      // acting agent_id
	RequestID     string          `json:"request_id,omitempty"` // echoed back verbatim
	Cwd           string          `json:"cwd,omitempty"`        // anchor discovery start
	ClientVersion string          `json:"client_version,omitempty"`
}

// NextStep is a machine-actionable hint attached to successful
// envelopes: what a well-behaved agent would plausibly do next.
type NextStep struct {
	Intent string `json:"intent"`
	Cmd    string `json:"cmd"`
}

// Envelope is the uniform response shape for every operation.
type Envelope struct {
	OK        bool       `json:"ok"`
	Data      any        `json:"data,omitempty"`
	Next      []NextStep `json:"next,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
	Error     *Error     `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// OK wraps a payload in a successful envelope.
func OK(data any, next ...NextStep) *Envelope {
	return &Envelope{OK: true, Data: data, Next: next}
}

// Fail wraps an error in a failure envelope, coercing unknown errors
// into the closed code set.
func Fail(err error) *Envelope {
	return &Envelope{OK: false, Error: AsError(err)}
}

// WithWarnings attaches warnings and returns the envelope for chaining.
func (e *Envelope) WithWarnings(warnings ...string) *Envelope {
	e.Warnings = append(e.Warnings, warnings...)
	return e
}
