package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload schemas, published for adapter authors. Each operation has
// an input schema (its argument object) and a data schema (the shape
// of Envelope.data on success). OutputSchema composes the data schema
// into the envelope schema so `--schema` prints the full response
// contract in one document.

const envelopeSchemaTemplate = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": %q,
  "type": "object",
  "properties": {
    "ok": {"type": "boolean"},
    "data": %s,
    "next": {"type": "array", "items": {"type": "object", "properties": {"intent": {"type": "string"}, "cmd": {"type": "string"}}, "required": ["intent", "cmd"]}},
    "warnings": {"type": "array", "items": {"type": "string"}},
    "error": {"type": "object", "properties": {"code": {"type": "string"}, "message": {"type": "string"}, "details": {"type": "object"}}, "required": ["code", "message"]},
    "request_id": {"type": "string"}
  },
  "required": ["ok"]
}`

// Shared fragments.
const (
	schemaTask = `{"type": "object", "properties": {
    "id": {"type": "string"}, "title": {"type": "string"},
    "description": {"type": "string"}, "acceptance_criteria": {"type": "string"},
    "status": {"enum": ["ready", "done", "verified", "deleted"]},
    "priority": {"type": "integer"},
    "labels": {"type": "array", "items": {"type": "string"}},
    "depends_on": {"type": "array", "items": {"type": "string"}},
    "locks": {"type": "array", "items": {"type": "string"}},
    "created_at": {"type": "string"}, "updated_at": {"type": "string"},
    "prd": {"type": "object"},
    "claimable": {"type": "boolean"},
    "lease": {"type": ["object", "null"]}
  }, "required": ["id", "title", "status", "priority"]}`

	schemaAgent = `{"type": "object", "properties": {
    "agent_id": {"type": "string"}, "display_name": {"type": "string"},
    "role": {"type": "string"},
    "capabilities": {"type": "array", "items": {"type": "string"}},
    "registered_at": {"type": "string"}, "last_seen_at": {"type": ["string", "null"]},
    "session_meta": {"type": "object"}
  }, "required": ["agent_id", "registered_at"]}`

	schemaLease = `{"type": "object", "properties": {
    "lease_id": {"type": "string"}, "task_id": {"type": "string"},
    "agent_id": {"type": "string"}, "created_at": {"type": "string"},
    "expires_at": {"type": "string"}, "expires_in_seconds": {"type": "integer"}
  }, "required": ["lease_id", "task_id", "agent_id", "expires_at"]}`

	schemaMessage = `{"type": "object", "properties": {
    "message_id": {"type": "integer"}, "created_at": {"type": "string"},
    "from_agent_id": {"type": "string"}, "to_type": {"enum": ["agent", "task"]},
    "to_id": {"type": "string"}, "subject": {"type": "string"},
    "severity": {"enum": ["info", "warning", "critical"]},
    "task_id": {"type": "string"}, "body": {"type": "string"},
    "read_at": {"type": ["string", "null"]}
  }, "required": ["message_id", "from_agent_id", "to_type", "to_id", "body"]}`

	schemaEvent = `{"type": "object", "properties": {
    "id": {"type": "integer"}, "created_at": {"type": "string"},
    "type": {"type": "string"}, "actor_agent_id": {"type": "string"},
    "task_id": {"type": "string"}, "target_agent_id": {"type": "string"},
    "payload": {"type": "object"}
  }, "required": ["id", "type"]}`
)

type opSchema struct {
	input string
	data  string
}

func listOf(item string) string {
	return `{"type": "array", "items": ` + item + `}`
}

var opSchemas = map[string]opSchema{
	OpRepoStatus: {
		input: `{"type": "object", "properties": {}}`,
		data: `{"type": "object", "properties": {
      "project": {"type": "string"}, "default_branch": {"type": "string"},
      "spec_path": {"type": "string"},
      "tasks": {"type": "object", "properties": {"ready": {"type": "integer"}, "done": {"type": "integer"}, "verified": {"type": "integer"}, "deleted": {"type": "integer"}, "total": {"type": "integer"}, "claimable": {"type": "integer"}}},
      "agents": {"type": "object", "properties": {"total": {"type": "integer"}, "active": {"type": "integer"}, "left": {"type": "integer"}}},
      "leases_active": {"type": "integer"}, "messages_unread": {"type": "integer"},
      "last_event_id": {"type": "integer"}, "schema_version": {"type": "integer"}
    }}`,
	},
	OpAgentJoin: {
		input: `{"type": "object", "properties": {"agent_id": {"type": "string"}, "display_name": {"type": "string"}, "role": {"type": "string"}, "capabilities": {"type": "array", "items": {"type": "string"}}, "session_meta": {"type": "object"}}}`,
		data:  `{"type": "object", "properties": {"agent": ` + schemaAgent + `}, "required": ["agent"]}`,
	},
	OpAgentList: {
		input: `{"type": "object", "properties": {"active_only": {"type": "boolean"}}}`,
		data:  `{"type": "object", "properties": {"agents": ` + listOf(schemaAgent) + `, "count": {"type": "integer"}}}`,
	},
	OpAgentFind: {
		input: `{"type": "object", "properties": {"name": {"type": "string"}, "role": {"type": "string"}, "capability": {"type": "string"}}}`,
		data:  `{"type": "object", "properties": {"agents": ` + listOf(schemaAgent) + `, "count": {"type": "integer"}}}`,
	},
	OpAgentHeartbeat: {
		input: `{"type": "object", "properties": {"agent_id": {"type": "string"}}, "required": ["agent_id"]}`,
		data:  `{"type": "object", "properties": {"agent_id": {"type": "string"}, "last_seen_at": {"type": "string"}}}`,
	},
	OpAgentLeave: {
		input: `{"type": "object", "properties": {"agent_id": {"type": "string"}}, "required": ["agent_id"]}`,
		data:  `{"type": "object", "properties": {"agent_id": {"type": "string"}, "left": {"type": "boolean"}}}`,
	},
	OpTaskList: {
		input: `{"type": "object", "properties": {"status": {"type": "string"}, "label": {"type": "string"}, "claimable_only": {"type": "boolean"}, "claimed_only": {"type": "boolean"}}}`,
		data:  `{"type": "object", "properties": {"tasks": ` + listOf(schemaTask) + `, "count": {"type": "integer"}}}`,
	},
	OpTaskGet: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}}, "required": ["task_id"]}`,
		data:  `{"type": "object", "properties": {"task": ` + schemaTask + `, "dependents": {"type": "array", "items": {"type": "string"}}, "deps": {"type": "object"}}, "required": ["task"]}`,
	},
	OpTaskNext: {
		input: `{"type": "object", "properties": {"limit": {"type": "integer"}, "agent_id": {"type": "string"}}}`,
		data:  `{"type": "object", "properties": {"candidates": {"type": "array", "items": {"type": "object", "properties": {"task": ` + schemaTask + `, "rationale": {"type": "string"}}}}, "count": {"type": "integer"}}}`,
	},
	OpTaskCreate: {
		input: `{"type": "object", "properties": {"id": {"type": "string"}, "title": {"type": "string"}, "description": {"type": "string"}, "acceptance_criteria": {"type": "string"}, "priority": {"type": "integer"}, "labels": {"type": "array", "items": {"type": "string"}}, "depends_on": {"type": "array", "items": {"type": "string"}}, "locks": {"type": "array", "items": {"type": "string"}}, "prd_source": {"type": "string"}, "prd_refs": {"type": "array"}}, "required": ["title"]}`,
		data:  `{"type": "object", "properties": {"task": ` + schemaTask + `}, "required": ["task"]}`,
	},
	OpTaskUpdate: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "title": {"type": "string"}, "description": {"type": "string"}, "acceptance_criteria": {"type": "string"}, "priority": {"type": "integer"}, "labels": {"type": "array"}, "depends_on": {"type": "array"}, "locks": {"type": "array"}}, "required": ["task_id"]}`,
		data:  `{"type": "object", "properties": {"task": ` + schemaTask + `}, "required": ["task"]}`,
	},
	OpTaskDelete: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "cascade": {"type": "boolean"}}, "required": ["task_id"]}`,
		data:  `{"type": "object", "properties": {"deleted_task_ids": {"type": "array", "items": {"type": "string"}}}}`,
	},
	OpTaskClaim: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "agent_id": {"type": "string"}, "ttl": {"type": "string"}, "force": {"type": "boolean"}}, "required": ["task_id", "agent_id"]}`,
		data:  `{"type": "object", "properties": {"lease": ` + schemaLease + `, "task": ` + schemaTask + `}, "required": ["lease"]}`,
	},
	OpTaskRenew: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "agent_id": {"type": "string"}, "ttl": {"type": "string"}}, "required": ["task_id", "agent_id"]}`,
		data:  `{"type": "object", "properties": {"lease": ` + schemaLease + `}, "required": ["lease"]}`,
	},
	OpTaskRelease: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "agent_id": {"type": "string"}, "reason": {"type": "string"}}, "required": ["task_id", "agent_id"]}`,
		data:  `{"type": "object", "properties": {"task_id": {"type": "string"}, "released": {"type": "boolean"}}}`,
	},
	OpTaskDone: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "agent_id": {"type": "string"}}, "required": ["task_id", "agent_id"]}`,
		data:  `{"type": "object", "properties": {"task": ` + schemaTask + `}, "required": ["task"]}`,
	},
	OpTaskVerify: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "agent_id": {"type": "string"}}, "required": ["task_id", "agent_id"]}`,
		data:  `{"type": "object", "properties": {"task": ` + schemaTask + `, "newly_ready_task_ids": {"type": "array", "items": {"type": "string"}}}, "required": ["task"]}`,
	},
	OpTaskComplete: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "agent_id": {"type": "string"}}, "required": ["task_id", "agent_id"]}`,
		data:  `{"type": "object", "properties": {"task": ` + schemaTask + `, "newly_ready_task_ids": {"type": "array", "items": {"type": "string"}}}, "required": ["task"]}`,
	},
	OpTaskContext: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "budget": {"type": "integer"}}, "required": ["task_id"]}`,
		data: `{"type": "object", "properties": {
      "task_id": {"type": "string"}, "source": {"type": "string"},
      "drift": {"type": "object", "properties": {"changed": {"type": "boolean"}, "affected_refs": {"type": "array", "items": {"type": "string"}}}},
      "excerpt": {"type": "string"},
      "sections": {"type": "array", "items": {"type": "object", "properties": {"ref": {"type": "string"}, "text": {"type": "string"}, "found": {"type": "boolean"}}}},
      "body": {"type": "string"}, "truncated": {"type": "boolean"}, "budget": {"type": "integer"}
    }}`,
	},
	OpTaskGraph: {
		input: `{"type": "object", "properties": {"format": {"enum": ["json", "dot", "tree"]}}}`,
		data: `{"type": "object", "properties": {
      "nodes": {"type": "array", "items": {"type": "object", "properties": {"id": {"type": "string"}, "title": {"type": "string"}, "status": {"type": "string"}, "priority": {"type": "integer"}, "claimable": {"type": "boolean"}, "lease_agent_id": {"type": "string"}}}},
      "edges": {"type": "array", "items": {"type": "object", "properties": {"from": {"type": "string"}, "to": {"type": "string"}}}},
      "order": {"type": "array", "items": {"type": "string"}},
      "rendered": {"type": "string"}
    }}`,
	},
	OpMessageSend: {
		input: `{"type": "object", "properties": {"from_agent_id": {"type": "string"}, "to_type": {"enum": ["agent", "task"]}, "to_id": {"type": "string"}, "body": {"type": "string"}, "subject": {"type": "string"}, "severity": {"type": "string"}, "task_id": {"type": "string"}}, "required": ["from_agent_id", "to_type", "to_id", "body"]}`,
		data:  `{"type": "object", "properties": {"message": ` + schemaMessage + `}, "required": ["message"]}`,
	},
	OpMessageList: {
		input: `{"type": "object", "properties": {"agent_id": {"type": "string"}, "unread_only": {"type": "boolean"}, "from_agent_id": {"type": "string"}, "since": {"type": "string"}, "until": {"type": "string"}, "limit": {"type": "integer"}, "mark_read": {"type": "boolean"}}, "required": ["agent_id"]}`,
		data:  `{"type": "object", "properties": {"messages": ` + listOf(schemaMessage) + `, "count": {"type": "integer"}, "marked_read": {"type": "integer"}}}`,
	},
	OpMessageThread: {
		input: `{"type": "object", "properties": {"task_id": {"type": "string"}, "since": {"type": "string"}, "limit": {"type": "integer"}}, "required": ["task_id"]}`,
		data:  `{"type": "object", "properties": {"task_id": {"type": "string"}, "messages": ` + listOf(schemaMessage) + `, "count": {"type": "integer"}}}`,
	},
	OpMessageSearch: {
		input: `{"type": "object", "properties": {"keyword": {"type": "string"}, "from_agent_id": {"type": "string"}, "since": {"type": "string"}, "until": {"type": "string"}, "limit": {"type": "integer"}}}`,
		data:  `{"type": "object", "properties": {"messages": ` + listOf(schemaMessage) + `, "count": {"type": "integer"}}}`,
	},
	OpMessageAck: {
		input: `{"type": "object", "properties": {"agent_id": {"type": "string"}, "message_id": {"type": "integer"}}, "required": ["agent_id", "message_id"]}`,
		data:  `{"type": "object", "properties": {"message_id": {"type": "integer"}, "read_at": {"type": "string"}}}`,
	},
	OpEventsPull: {
		input: `{"type": "object", "properties": {"since": {"type": "integer"}, "limit": {"type": "integer"}, "types": {"type": "array", "items": {"type": "string"}}}}`,
		data:  `{"type": "object", "properties": {"events": ` + listOf(schemaEvent) + `, "next_cursor": {"type": "integer"}, "count": {"type": "integer"}}, "required": ["next_cursor"]}`,
	},
	OpExportSnapshot: {
		input: `{"type": "object", "properties": {"out": {"type": "string"}}}`,
		data: `{"type": "object", "properties": {
      "generated_at": {"type": "string"}, "project": {"type": "string"}, "default_branch": {"type": "string"},
      "tasks": ` + listOf(schemaTask) + `, "agents": ` + listOf(schemaAgent) + `,
      "active_leases": ` + listOf(schemaLease) + `, "unread_messages": {"type": "integer"},
      "last_event_id": {"type": "integer"}, "written_to": {"type": "string"}
    }}`,
	},
	OpHealthCheck: {
		input: `{"type": "object", "properties": {"client_version": {"type": "string"}}}`,
		data: `{"type": "object", "properties": {
      "version": {"type": "string"}, "ok": {"type": "boolean"},
      "checks": {"type": "array", "items": {"type": "object", "properties": {"name": {"type": "string"}, "ok": {"type": "boolean"}, "detail": {"type": "string"}}}},
      "client_compatible": {"type": "boolean"}
    }}`,
	},
	OpInit: {
		input: `{"type": "object", "properties": {"name": {"type": "string"}, "default_branch": {"type": "string"}, "agents_md": {"type": "boolean"}, "force": {"type": "boolean"}}}`,
		data:  `{"type": "object", "properties": {"root": {"type": "string"}, "spec_path": {"type": "string"}, "runtime_path": {"type": "string"}, "created": {"type": "array", "items": {"type": "string"}}}}`,
	},
}

// InputSchema returns the argument schema for op.
func InputSchema(op string) (json.RawMessage, bool) {
	s, ok := opSchemas[op]
	if !ok {
		return nil, false
	}
	return compact(s.input), true
}

// OutputSchema returns the full envelope schema for op with the data
// payload schema embedded.
func OutputSchema(op string) (json.RawMessage, bool) {
	s, ok := opSchemas[op]
	if !ok {
		return nil, false
	}
	doc := fmt.Sprintf(envelopeSchemaTemplate, op+" response", s.data)
	return compact(doc), true
}

func compact(raw string) json.RawMessage {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// Schemas are package constants; a parse failure is a
		// programming error surfaced in tests.
		panic(fmt.Sprintf("protocol: bad schema literal: %v", err))
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return out
}
