// Package rpc adapts the engine to the wire. A Dispatcher decodes
// protocol requests, invokes the matching engine operation, and wraps
// the result in an envelope; the CLI and the stdio serve loop share one
// Dispatcher so a scripted `lodestar --json` call and a line on a serve
// session produce identical envelopes.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/logging"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
)

// Dispatcher routes requests to engines. Engines are cached per anchor
// directory, so a serve session touching one repository opens its
// runtime once; Close releases them all.
type Dispatcher struct {
	opts engine.Options

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

// NewDispatcher builds a dispatcher. The zero Options is usable;
// callers normally thread configured lease TTL and lock timeout in.
func NewDispatcher(opts engine.Options) *Dispatcher {
	return &Dispatcher{opts: opts, engines: make(map[string]*engine.Engine)}
}

// Close releases every cached engine and reports the first failure.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for key, eng := range d.engines {
		if err := eng.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.engines, key)
	}
	return firstErr
}

// Handle runs one request to completion. It always returns an
// envelope: engine errors become failure envelopes and a panicking
// handler is caught rather than taking down a serve session.
func (d *Dispatcher) Handle(ctx context.Context, req *protocol.Request) (env *protocol.Envelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			env = protocol.Fail(protocol.NewError(protocol.CodeUnknown, "internal error: %v", r))
			env.RequestID = req.RequestID
			logging.Logf("rpc %s panicked: %v", req.Operation, r)
		}
	}()

	env = d.dispatch(ctx, req)
	env.RequestID = req.RequestID
	if env.OK {
		logging.Logf("rpc %s ok (%s)", req.Operation, time.Since(start).Round(time.Millisecond))
	} else if env.Error != nil {
		logging.Logf("rpc %s failed: %s: %s", req.Operation, env.Error.Code, env.Error.Message)
	}
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, req *protocol.Request) *protocol.Envelope {
	// init and health.check run before anchor discovery: init creates
	// the anchor, and health must report on a repository the engine
	// would refuse to open.
	switch req.Operation {
	case protocol.OpInit:
		return d.handleInit(ctx, req)
	case protocol.OpHealthCheck:
		return d.handleHealth(ctx, req)
	}

	eng, err := d.engineFor(ctx, req.Cwd)
	if err != nil {
		return protocol.Fail(err)
	}

	switch req.Operation {
	case protocol.OpRepoStatus:
		return d.handleStatus(ctx, eng)
	case protocol.OpAgentJoin:
		return d.handleJoin(ctx, eng, req)
	case protocol.OpAgentList:
		return d.handleAgentList(ctx, eng, req)
	case protocol.OpAgentFind:
		return d.handleAgentFind(ctx, eng, req)
	case protocol.OpAgentHeartbeat:
		return d.handleHeartbeat(ctx, eng, req)
	case protocol.OpAgentLeave:
		return d.handleLeave(ctx, eng, req)
	case protocol.OpTaskList:
		return d.handleTaskList(ctx, eng, req)
	case protocol.OpTaskGet:
		return d.handleTaskGet(ctx, eng, req)
	case protocol.OpTaskNext:
		return d.handleTaskNext(ctx, eng, req)
	case protocol.OpTaskCreate:
		return d.handleTaskCreate(ctx, eng, req)
	case protocol.OpTaskUpdate:
		return d.handleTaskUpdate(ctx, eng, req)
	case protocol.OpTaskDelete:
		return d.handleTaskDelete(ctx, eng, req)
	case protocol.OpTaskClaim:
		return d.handleClaim(ctx, eng, req)
	case protocol.OpTaskRenew:
		return d.handleRenew(ctx, eng, req)
	case protocol.OpTaskRelease:
		return d.handleRelease(ctx, eng, req)
	case protocol.OpTaskDone:
		return d.handleDone(ctx, eng, req)
	case protocol.OpTaskVerify:
		return d.handleVerify(ctx, eng, req)
	case protocol.OpTaskComplete:
		return d.handleComplete(ctx, eng, req)
	case protocol.OpTaskContext:
		return d.handleContext(ctx, eng, req)
	case protocol.OpTaskGraph:
		return d.handleGraph(ctx, eng, req)
	case protocol.OpMessageSend:
		return d.handleMessageSend(ctx, eng, req)
	case protocol.OpMessageList:
		return d.handleMessageList(ctx, eng, req)
	case protocol.OpMessageThread:
		return d.handleMessageThread(ctx, eng, req)
	case protocol.OpMessageSearch:
		return d.handleMessageSearch(ctx, eng, req)
	case protocol.OpMessageAck:
		return d.handleMessageAck(ctx, eng, req)
	case protocol.OpEventsPull:
		return d.handleEventsPull(ctx, eng, req)
	case protocol.OpExportSnapshot:
		return d.handleExport(ctx, eng, req)
	default:
		return protocol.Fail(
			protocol.Invalid("operation", fmt.Sprintf("%q is not a known operation", req.Operation)).
				WithDetail("operations", protocol.Operations))
	}
}

// engineFor resolves the anchor for cwd and returns a cached or
// freshly opened engine for it.
func (d *Dispatcher) engineFor(ctx context.Context, cwd string) (*engine.Engine, error) {
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	root, err := paths.Find(cwd)
	if err != nil {
		if errors.Is(err, paths.ErrNotInitialized) {
			return nil, protocol.NewError(protocol.CodeNotInitialized, "%s", err)
		}
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if eng, ok := d.engines[root.LodestarDir]; ok {
		return eng, nil
	}
	eng, err := engine.Open(ctx, root, d.opts)
	if err != nil {
		return nil, err
	}
	d.engines[root.LodestarDir] = eng
	return eng, nil
}

// decode unmarshals request args into dst. Absent args decode as the
// zero value; malformed JSON is the caller's fault, not ours.
func decode(req *protocol.Request, dst any) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, dst); err != nil {
		return protocol.Invalid("args", err.Error())
	}
	return nil
}

// actorOr prefers the explicit agent_id from args over the request's
// ambient actor, so scripts can act for a named agent while
// interactive sessions lean on LODESTAR_AGENT_ID.
func actorOr(req *protocol.Request, agentID string) string {
	if agentID != "" {
		return agentID
	}
	return req.Actor
}

// parseTTL converts the wire's duration string. Empty means "use the
// configured default" and is passed through as zero.
func parseTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, protocol.Invalid("ttl", fmt.Sprintf("%q is not a duration (try 15m, 90s, or 1h)", raw))
	}
	return ttl, nil
}
