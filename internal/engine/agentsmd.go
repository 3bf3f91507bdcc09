package engine

import "fmt"

// agentsMD renders the onboarding document init drops at the
// repository root. It addresses the agents themselves: short,
// imperative, copy-pasteable.
func agentsMD(project string) string {
	return fmt.Sprintf(`# Agent Coordination: %s

This repository coordinates multiple agents through `+"`lodestar`"+`. Task
definitions live in `+"`.lodestar/spec.yaml`"+` (committed); leases, messages,
and events live in `+"`.lodestar/runtime.db`"+` (local, never committed).
Every command takes `+"`--json`"+` for machine-readable output.

## Quick start

    lodestar agent join --name "your-name" --role implementer
    export LODESTAR_AGENT_ID=<agent_id from the response>
    lodestar task next
    lodestar task claim <task_id>

Heartbeat every few minutes while working so others can see you are
alive:

    lodestar agent heartbeat

## Finding work

`+"`lodestar task next`"+` recommends claimable tasks: status ready, every
dependency verified, nobody holding a lease. The recommendation is
advisory; the claim is the only arbiter. If your claim loses a race,
ask again.

## Working a task

    lodestar task claim T1 --ttl 30m      # exclusive lease
    # ... do the work, renewing if it runs long ...
    lodestar task renew T1 --ttl 30m
    lodestar task complete T1             # done + verify in one step

Use `+"`task done`"+` + `+"`task verify`"+` instead of `+"`complete`"+` when someone
else should check the work. Release early if you abandon a task:

    lodestar task release T1 --reason "blocked on schema decision"

Leases expire on their own; a crashed agent blocks nothing for longer
than its TTL.

## Claim options

| Flag | Meaning |
| --- | --- |
| `+"`--ttl`"+` | Lease duration (60s to 2h, default 15m) |
| `+"`--force`"+` | Suppress advisory lock-overlap warnings |

`+"`--force`"+` never evicts an active lease. A held task stays held until
its lease expires or its holder releases it.

## Lock coordination

Tasks may declare `+"`locks`"+`, glob patterns over files they intend to
touch (`+"`src/api/**`"+`). Claiming a task whose locks overlap another
active claim prints a warning. Locks are advisory: coordinate through
messages when you must cross one.

## Messaging

    lodestar msg send --to-agent <id> --body "schema changed, re-pull"
    lodestar msg send --to-task T1 --body "decision: keep v2 endpoint"
    lodestar msg inbox --unread --mark-read
    lodestar msg thread T1

Task threads accept any ID, so context can be attached before the task
exists or after it is deleted.

## Files

| Path | Committed | Purpose |
| --- | --- | --- |
| `+"`.lodestar/spec.yaml`"+` | yes | Task definitions and statuses |
| `+"`.lodestar/roles.toml`"+` | yes | Role presets for agent join |
| `+"`.lodestar/runtime.db`"+` | no | Leases, messages, events |
| `+"`.lodestar/logs/`"+` | no | Engine logs |

Deleting `+"`runtime.db`"+` is safe: task state survives in the spec, and
agents simply re-join.
`, project)
}
