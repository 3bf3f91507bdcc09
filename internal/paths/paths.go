// Package paths locates the repository anchor and derives the file
// layout under it. The anchor is a directory named .lodestar found by
// walking upward from the starting directory, the same way git finds
// .git.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirName is the anchor directory created by init.
	DirName = ".lodestar"
	// SpecFile is the committed task spec inside the anchor.
	SpecFile = "spec.yaml"
	// RuntimeFile is the local runtime database inside the anchor.
	RuntimeFile = "runtime.db"
	// LockFile is the sentinel used for spec file locking.
	LockFile = ".lock"
	// RolesFile holds named capability presets for agent join.
	RolesFile = "roles.toml"
	// LogDirName holds rotated engine logs.
	LogDirName = "logs"

	// EnvRoot overrides anchor discovery entirely.
	EnvRoot = "LODESTAR_ROOT"
)

// ErrNotInitialized reports that no anchor directory was found.
var ErrNotInitialized = errors.New("no " + DirName + " directory found (run 'lodestar init')")

// Root describes a resolved repository anchor.
type Root struct {
	// Dir is the repository root (the parent of the anchor).
	Dir string
	// LodestarDir is the anchor directory itself.
	LodestarDir string
}

// SpecPath returns the committed spec file path.
func (r Root) SpecPath() string { return filepath.Join(r.LodestarDir, SpecFile) }

// RuntimePath returns the runtime database path.
func (r Root) RuntimePath() string { return filepath.Join(r.LodestarDir, RuntimeFile) }

// LockPath returns the spec lock sentinel path.
func (r Root) LockPath() string { return filepath.Join(r.LodestarDir, LockFile) }

// RolesPath returns the role preset file path.
func (r Root) RolesPath() string { return filepath.Join(r.LodestarDir, RolesFile) }

// LogDir returns the log directory path.
func (r Root) LogDir() string { return filepath.Join(r.LodestarDir, LogDirName) }

// At wraps an explicit repository root without walking. The anchor
// directory need not exist yet; init uses this before creating it.
func At(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolving root %s: %w", dir, err)
	}
	return Root{Dir: abs, LodestarDir: filepath.Join(abs, DirName)}, nil
}

// Find walks upward from startDir looking for the anchor. An empty
// startDir means the current working directory. The LODESTAR_ROOT
// environment variable short-circuits the walk.
func Find(startDir string) (Root, error) {
	if env := os.Getenv(EnvRoot); env != "" {
		root, err := At(env)
		if err != nil {
			return Root{}, err
		}
		if !isDir(root.LodestarDir) {
			return Root{}, fmt.Errorf("%s=%s: %w", EnvRoot, env, ErrNotInitialized)
		}
		return root, nil
	}

	dir := startDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Root{}, fmt.Errorf("getting working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolving %s: %w", dir, err)
	}

	for {
		candidate := filepath.Join(abs, DirName)
		if isDir(candidate) {
			return Root{Dir: abs, LodestarDir: candidate}, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return Root{}, ErrNotInitialized
		}
		abs = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
