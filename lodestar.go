// Package lodestar provides a minimal public API for embedding the
// coordination engine in Go tooling.
//
// Most automations should shell out to the lodestar CLI (every command
// accepts --json and prints a stable envelope). This package exports only
// the essential types and entry points for programs that want to drive
// the engine in-process instead.
package lodestar

import (
	"context"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// Version is the engine version reported by health checks and handshakes.
const Version = engine.Version

// Engine coordinates the committed task plane with the local runtime plane.
// Open one per repository root; it is safe for concurrent use.
type Engine = engine.Engine

// Options tune an Engine at open time. Zero values use the defaults the
// CLI ships with.
type Options = engine.Options

// Root is a resolved repository anchor (the directory holding .lodestar/).
type Root = paths.Root

// ErrNotInitialized reports that anchor discovery found no .lodestar/
// directory. Wrap-aware: use errors.Is.
var ErrNotInitialized = paths.ErrNotInitialized

// Find walks upward from startDir to the nearest initialized repository.
// An empty startDir means the current working directory.
func Find(startDir string) (Root, error) {
	return paths.Find(startDir)
}

// At wraps an explicit repository root without walking up.
func At(dir string) (Root, error) {
	return paths.At(dir)
}

// Open opens the engine on an anchored repository root.
func Open(ctx context.Context, root Root, opts Options) (*Engine, error) {
	return engine.Open(ctx, root, opts)
}

// InitRepo lays down the repository anchor: .lodestar/, a skeleton spec,
// the runtime database, and role presets. Idempotent unless Force.
func InitRepo(ctx context.Context, args InitArgs) (*InitResult, error) {
	return engine.InitRepo(ctx, args)
}

// CheckHealth probes an anchor without mutating it. It never creates the
// anchor directory, so it is safe to run anywhere.
func CheckHealth(ctx context.Context, root Root, clientVersion string) *HealthResult {
	return engine.CheckHealth(ctx, root, clientVersion)
}

// Committed-plane types from internal/spec.
type (
	Spec    = spec.Spec
	Task    = spec.Task
	Status  = spec.Status
	Project = spec.Project
	PRD     = spec.PRD
	PRDRef  = spec.PRDRef
)

// Runtime-plane rows from internal/storage.
type (
	Agent   = storage.Agent
	Lease   = storage.Lease
	Message = storage.Message
	Event   = storage.Event
)

// Engine argument and result types used by the exported operations.
type (
	InitArgs     = engine.InitArgs
	InitResult   = engine.InitResult
	HealthResult = engine.HealthResult
	JoinArgs     = engine.JoinArgs
	JoinResult   = engine.JoinResult
	CreateArgs   = engine.CreateArgs
	UpdateArgs   = engine.UpdateArgs
	TaskResult   = engine.TaskResult
	TaskView     = engine.TaskView
	ClaimArgs    = engine.ClaimArgs
	ClaimResult  = engine.ClaimResult
	SendArgs     = engine.SendArgs
	SendResult   = engine.SendResult
	PullArgs     = engine.PullArgs
	PullResult   = engine.PullResult
	StatusResult = engine.StatusResult
	Snapshot     = engine.Snapshot
)

// Task lifecycle states
const (
	StatusReady    = spec.StatusReady
	StatusDone     = spec.StatusDone
	StatusVerified = spec.StatusVerified
	StatusDeleted  = spec.StatusDeleted
)

// Event types appended to the runtime log
const (
	EventAgentJoined    = storage.EventAgentJoined
	EventAgentLeft      = storage.EventAgentLeft
	EventAgentHeartbeat = storage.EventAgentHeartbeat
	EventTaskClaimed    = storage.EventTaskClaimed
	EventTaskReleased   = storage.EventTaskReleased
	EventTaskDone       = storage.EventTaskDone
	EventTaskVerified   = storage.EventTaskVerified
	EventTaskDeleted    = storage.EventTaskDeleted
	EventMessageSent    = storage.EventMessageSent
	EventMessageRead    = storage.EventMessageRead
	EventLeaseOrphaned  = storage.EventLeaseOrphaned
)

// Message severities
const (
	SeverityInfo     = storage.SeverityInfo
	SeverityWarning  = storage.SeverityWarning
	SeverityCritical = storage.SeverityCritical
)
