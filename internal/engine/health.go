package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/mod/semver"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage/sqlite"
)

// HealthCheck is one probe outcome.
type HealthCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthResult is the health.check payload.
type HealthResult struct {
	Version          string        `json:"version"`
	OK               bool          `json:"ok"`
	Checks           []HealthCheck `json:"checks"`
	ClientCompatible bool          `json:"client_compatible"`
}

// CheckHealth probes every moving part of a repository and reports per
// check rather than failing fast, so one broken plane does not mask
// the state of the others. It deliberately does not go through Open:
// a corrupt runtime database must still produce a readable report.
func CheckHealth(ctx context.Context, root paths.Root, clientVersion string) *HealthResult {
	result := &HealthResult{
		Version:          Version,
		OK:               true,
		ClientCompatible: clientCompatible(clientVersion),
	}
	add := func(name string, ok bool, detail string) {
		result.Checks = append(result.Checks, HealthCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			result.OK = false
		}
	}

	anchored := false
	if info, err := os.Stat(root.LodestarDir); err != nil || !info.IsDir() {
		add("anchor", false, fmt.Sprintf("%s is missing (run 'lodestar init')", root.LodestarDir))
	} else {
		anchored = true
		add("anchor", true, root.LodestarDir)
	}

	if s, err := spec.NewStore(root, clock.System{}).Load(); err != nil {
		add("spec", false, err.Error())
	} else {
		add("spec", true, fmt.Sprintf("%d tasks", s.Len()))
	}

	if store, err := sqlite.New(ctx, root.RuntimePath()); err != nil {
		add("runtime", false, err.Error())
	} else {
		stats, err := store.Stats(ctx, clock.Format(clock.System{}.Now()))
		switch {
		case err != nil:
			add("runtime", false, err.Error())
		case stats.SchemaVersion != sqlite.SchemaVersion():
			add("runtime", false, fmt.Sprintf("schema version %d, expected %d",
				stats.SchemaVersion, sqlite.SchemaVersion()))
		default:
			add("runtime", true, fmt.Sprintf("schema version %d, %d events", stats.SchemaVersion, stats.Events))
		}
		store.Close()
	}

	fl := flock.New(root.LockPath())
	if locked, err := fl.TryLock(); err != nil {
		add("lock", false, err.Error())
	} else if !locked {
		// Held elsewhere is not a fault; the point is that locking works.
		add("lock", true, "currently held by another process")
	} else {
		fl.Unlock()
		add("lock", true, "")
	}

	// The log probe creates the directory, which would conjure a
	// half-anchor out of nothing; skip it until init has run.
	if anchored {
		if err := probeWritable(root.LogDir()); err != nil {
			add("logs", false, err.Error())
		} else {
			add("logs", true, root.LogDir())
		}
	}
	return result
}

// probeWritable creates and removes a throwaway file in dir.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// clientCompatible applies the envelope stability promise: payload
// shapes are stable within a major version, so a client is compatible
// when its major matches the engine's. No client version means the
// caller is not checking.
func clientCompatible(clientVersion string) bool {
	if clientVersion == "" {
		return true
	}
	cv := "v" + strings.TrimPrefix(clientVersion, "v")
	if !semver.IsValid(cv) {
		return false
	}
	return semver.Major(cv) == semver.Major("v"+Version)
}
