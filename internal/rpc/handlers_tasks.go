package rpc

import (
	"context"
	"fmt"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/spec"
)

func (d *Dispatcher) handleTaskList(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		Status        string `json:"status"`
		Label         string `json:"label"`
		ClaimableOnly bool   `json:"claimable_only"`
		ClaimedOnly   bool   `json:"claimed_only"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.ListTasks(ctx, engine.TaskQuery{
		Status:        a.Status,
		Label:         a.Label,
		ClaimableOnly: a.ClaimableOnly,
		ClaimedOnly:   a.ClaimedOnly,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleTaskGet(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.GetTask(ctx, a.TaskID)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res).WithWarnings(res.Warnings...)
}

func (d *Dispatcher) handleTaskNext(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		AgentID string `json:"agent_id"`
		Limit   int    `json:"limit"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Next(ctx, actorOr(req, a.AgentID), a.Limit)
	if err != nil {
		return protocol.Fail(err)
	}
	var next []protocol.NextStep
	if len(res.Candidates) > 0 {
		next = append(next, hintClaim(res.Candidates[0].Task.ID))
	}
	return protocol.OK(res, next...)
}

func (d *Dispatcher) handleTaskCreate(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		ID                 string        `json:"id"`
		Title              string        `json:"title"`
		Description        string        `json:"description"`
		AcceptanceCriteria string        `json:"acceptance_criteria"`
		Priority           *int          `json:"priority"`
		Labels             []string      `json:"labels"`
		DependsOn          []string      `json:"depends_on"`
		Locks              []string      `json:"locks"`
		PRDSource          string        `json:"prd_source"`
		PRDRefs            []spec.PRDRef `json:"prd_refs"`
		PRDExcerpt         string        `json:"prd_excerpt"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.CreateTask(ctx, engine.CreateArgs{
		ID:                 a.ID,
		Title:              a.Title,
		Description:        a.Description,
		AcceptanceCriteria: a.AcceptanceCriteria,
		Priority:           a.Priority,
		Labels:             a.Labels,
		DependsOn:          a.DependsOn,
		Locks:              a.Locks,
		PRDSource:          a.PRDSource,
		PRDRefs:            a.PRDRefs,
		PRDExcerpt:         a.PRDExcerpt,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res, hintClaim(res.Task.ID)).WithWarnings(res.Warnings...)
}

func (d *Dispatcher) handleTaskUpdate(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID             string    `json:"task_id"`
		Title              *string   `json:"title"`
		Description        *string   `json:"description"`
		AcceptanceCriteria *string   `json:"acceptance_criteria"`
		Priority           *int      `json:"priority"`
		Labels             *[]string `json:"labels"`
		DependsOn          *[]string `json:"depends_on"`
		Locks              *[]string `json:"locks"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.UpdateTask(ctx, engine.UpdateArgs{
		TaskID:             a.TaskID,
		Title:              a.Title,
		Description:        a.Description,
		AcceptanceCriteria: a.AcceptanceCriteria,
		Priority:           a.Priority,
		Labels:             a.Labels,
		DependsOn:          a.DependsOn,
		Locks:              a.Locks,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res).WithWarnings(res.Warnings...)
}

func (d *Dispatcher) handleTaskDelete(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		Cascade bool   `json:"cascade"`
		AgentID string `json:"agent_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.DeleteTask(ctx, actorOr(req, a.AgentID), a.TaskID, a.Cascade)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleClaim(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
		TTL     string `json:"ttl"`
		Force   bool   `json:"force"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	ttl, err := parseTTL(a.TTL)
	if err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Claim(ctx, engine.ClaimArgs{
		TaskID:  a.TaskID,
		AgentID: actorOr(req, a.AgentID),
		TTL:     ttl,
		Force:   a.Force,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res, hintRenew(res.Task.ID), hintComplete(res.Task.ID)).
		WithWarnings(res.Warnings...)
}

func (d *Dispatcher) handleRenew(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
		TTL     string `json:"ttl"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	ttl, err := parseTTL(a.TTL)
	if err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Renew(ctx, a.TaskID, actorOr(req, a.AgentID), ttl)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res).WithWarnings(res.Warnings...)
}

func (d *Dispatcher) handleRelease(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
		Reason  string `json:"reason"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Release(ctx, a.TaskID, actorOr(req, a.AgentID), a.Reason)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleDone(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Done(ctx, actorOr(req, a.AgentID), a.TaskID)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res, hintVerify(res.Task.ID))
}

func (d *Dispatcher) handleVerify(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Verify(ctx, actorOr(req, a.AgentID), a.TaskID)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res, hintNewlyReady(res.NewlyReadyTaskIDs)...)
}

func (d *Dispatcher) handleComplete(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID  string `json:"task_id"`
		AgentID string `json:"agent_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Complete(ctx, actorOr(req, a.AgentID), a.TaskID)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res, hintNewlyReady(res.NewlyReadyTaskIDs)...)
}

func (d *Dispatcher) handleContext(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID string `json:"task_id"`
		Budget int    `json:"budget"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Context(ctx, a.TaskID, a.Budget)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res).WithWarnings(res.Warnings...)
}

func (d *Dispatcher) handleGraph(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		Format string `json:"format"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Graph(ctx)
	if err != nil {
		return protocol.Fail(err)
	}
	switch a.Format {
	case "", "json":
	case "dot":
		res.Rendered = res.DOT()
	case "tree":
		res.Rendered = res.Tree()
	default:
		return protocol.Fail(protocol.Invalid("format", fmt.Sprintf("%q is not one of json, dot, tree", a.Format)))
	}
	return protocol.OK(res)
}
