package rpc

import (
	"context"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
)

func (d *Dispatcher) handleMessageSend(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var args engine.SendArgs
	if err := decode(req, &args); err != nil {
		return protocol.Fail(err)
	}
	args.FromAgentID = actorOr(req, args.FromAgentID)
	res, err := eng.SendMessage(ctx, args)
	if err != nil {
		return protocol.Fail(err)
	}
	var next []protocol.NextStep
	if res.Message.TaskID != "" {
		next = append(next, hintThread(res.Message.TaskID))
	}
	return protocol.OK(res, next...)
}

func (d *Dispatcher) handleMessageList(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		AgentID     string `json:"agent_id"`
		UnreadOnly  bool   `json:"unread_only"`
		FromAgentID string `json:"from_agent_id"`
		Since       string `json:"since"`
		Until       string `json:"until"`
		Limit       int    `json:"limit"`
		MarkRead    bool   `json:"mark_read"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Inbox(ctx, engine.InboxArgs{
		AgentID:     actorOr(req, a.AgentID),
		UnreadOnly:  a.UnreadOnly,
		FromAgentID: a.FromAgentID,
		Since:       a.Since,
		Until:       a.Until,
		Limit:       a.Limit,
		MarkRead:    a.MarkRead,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleMessageThread(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		TaskID string `json:"task_id"`
		Since  string `json:"since"`
		Limit  int    `json:"limit"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Thread(ctx, a.TaskID, a.Since, a.Limit)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleMessageSearch(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		Keyword     string `json:"keyword"`
		FromAgentID string `json:"from_agent_id"`
		Since       string `json:"since"`
		Until       string `json:"until"`
		Limit       int    `json:"limit"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.SearchMessages(ctx, engine.SearchArgs{
		Keyword:     a.Keyword,
		FromAgentID: a.FromAgentID,
		Since:       a.Since,
		Until:       a.Until,
		Limit:       a.Limit,
	})
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleMessageAck(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		AgentID   string `json:"agent_id"`
		MessageID int64  `json:"message_id"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Ack(ctx, actorOr(req, a.AgentID), a.MessageID)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleEventsPull(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var args engine.PullArgs
	if err := decode(req, &args); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.PullEvents(ctx, args)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}

func (d *Dispatcher) handleExport(ctx context.Context, eng *engine.Engine, req *protocol.Request) *protocol.Envelope {
	var a struct {
		Out string `json:"out"`
	}
	if err := decode(req, &a); err != nil {
		return protocol.Fail(err)
	}
	res, err := eng.Export(ctx, a.Out)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.OK(res)
}
