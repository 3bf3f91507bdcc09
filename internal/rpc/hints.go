package rpc

import "github.com/lodestar-dev/lodestar/internal/protocol"

// Next-step hints are advisory breadcrumbs for agents that work by
// transcript: the obvious follow-up command, never state the payload
// does not already carry.

func hintJoin() protocol.NextStep {
	return protocol.NextStep{
		Intent: "register this agent",
		Cmd:    "lodestar agent join --name <name> --role <role>",
	}
}

func hintNext(agentID string) protocol.NextStep {
	cmd := "lodestar task next"
	if agentID != "" {
		cmd += " --agent " + agentID
	}
	return protocol.NextStep{Intent: "find claimable work", Cmd: cmd}
}

func hintClaim(taskID string) protocol.NextStep {
	return protocol.NextStep{
		Intent: "claim " + taskID,
		Cmd:    "lodestar task claim " + taskID,
	}
}

func hintRenew(taskID string) protocol.NextStep {
	return protocol.NextStep{
		Intent: "extend the lease before it expires",
		Cmd:    "lodestar task renew " + taskID,
	}
}

func hintComplete(taskID string) protocol.NextStep {
	return protocol.NextStep{
		Intent: "finish and self-verify " + taskID,
		Cmd:    "lodestar task complete " + taskID,
	}
}

func hintVerify(taskID string) protocol.NextStep {
	return protocol.NextStep{
		Intent: "verify " + taskID + " once its acceptance criteria hold",
		Cmd:    "lodestar task verify " + taskID,
	}
}

func hintThread(taskID string) protocol.NextStep {
	return protocol.NextStep{
		Intent: "follow the discussion on " + taskID,
		Cmd:    "lodestar msg thread " + taskID,
	}
}

// hintNewlyReady points at work this verification unblocked.
func hintNewlyReady(taskIDs []string) []protocol.NextStep {
	if len(taskIDs) == 0 {
		return nil
	}
	return []protocol.NextStep{hintClaim(taskIDs[0])}
}
