package rpc

import (
	"context"
	"os"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
)

func (d *Dispatcher) handleInit(ctx context.Context, req *protocol.Request) *protocol.Envelope {
	var a struct {
		Name          string `json:"name"`
		DefaultBranch string `json:"default_branch"`
		AgentsMD      bool   `json:"agents_md"`
		Force         bool   `json:"force"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := engine.InitRepo(ctx, engine.InitArgs{
		Dir:           req.Cwd,
		Name:          a.Name,
		DefaultBranch: a.DefaultBranch,
		AgentsMD:      a.AgentsMD,
		Force:         a.Force,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res, hintJoin())
}

// handleHealth reports even when the engine would refuse to open: a
// missing anchor or corrupt runtime is exactly what the caller wants
// to hear about.
func (d *Dispatcher) handleHealth(ctx context.Context, req *protocol.Request) *protocol.Envelope {
	cwd := req.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return protocol.Fail(err)
		}
	}
	root, err := paths.Find(cwd)
	if err != nil {
		// Probe where the anchor would be so the report says "missing"
		// instead of erroring out.
		if root, err = paths.At(cwd); err != nil {
			return protocol.Fail(err)
		}
	}
	return protocol.OK(engine.CheckHealth(ctx, root, req.ClientVersion))
}

func (d *Dispatcher) handleStatus(ctx context.Context, eng *engine.Engine) *protocol.Envelope {
	res, err := eng.Status(ctx)
	if err != nil {
		return protocol.Fail(err)
	}
	var next []protocol.NextStep
	if res.Tasks.Claimable > 0 {
		next = append(next, hintNext(""))
	}
	return protocol.OK(res, next...)
}

func (d *Dispatcher) handleJoin(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var args engine.JoinArgs
	if err := decode(req, &args); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Join(ctx, args)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res,
		protocol.NextStep{
			Intent: "persist this identity for the session",
			Cmd:    "export LODESTAR_AGENT_ID=" + res.Agent.AgentID,
		},
		hintNext(res.Agent.AgentID),
	)
}

func (d *Dispatcher) handleAgentList(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		ActiveOnly bool `json:"active_only"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.ListAgents(ctx, a.ActiveOnly)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleAgentFind(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		Name       string `json:"name"`
		Role       string `json:"role"`
		Capability string `json:"capability"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.FindAgents(ctx, a.Name, a.Role, a.Capability)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		AgentID string `json:"agent_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Heartbeat(ctx, actorOr(req, a.AgentID))
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleLeave(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		AgentID string `json:"agent_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Leave(ctx, actorOr(req, a.AgentID))
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res).WithWarnings(res.Warnings...)
}
