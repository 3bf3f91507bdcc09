package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/roles"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/storage/sqlite"
)

// InitArgs configures repository initialization. Zero values fall back
// to the directory name for the project, "main" for the branch.
type InitArgs struct {
	Dir           string
	Name          string
	DefaultBranch string

	// AgentsMD also writes an AGENTS.md onboarding document at the
	// repository root.
	AgentsMD bool

	// Force overwrites an existing spec and AGENTS.md. Runtime state is
	// never overwritten; delete runtime.db by hand to reset it.
	Force bool
}

// InitResult is the init payload. Created lists root-relative paths
// this call wrote; rerunning init lists only what was missing.
type InitResult struct {
	Root        string   `json:"root"`
	SpecPath    string   `json:"spec_path"`
	RuntimePath string   `json:"runtime_path"`
	Created     []string `json:"created"`
}

// Runtime state never belongs in version control; the spec and role
// presets do.
const anchorGitignore = `# Local coordination runtime. Safe to delete, never commit.
runtime.db
runtime.db-*
.lock
logs/
`

// InitRepo lays down the repository anchor: the .lodestar directory,
// a skeleton spec, the runtime database, role presets, and housekeeping
// files. It is idempotent; existing files are kept unless Force.
func InitRepo(ctx context.Context, args InitArgs) (*InitResult, error) {
	dir := args.Dir
	if dir == "" {
		dir = "."
	}
	root, err := paths.At(dir)
	if err != nil {
		return nil, err
	}

	result := &InitResult{
		Root:        root.Dir,
		SpecPath:    root.SpecPath(),
		RuntimePath: root.RuntimePath(),
	}
	created := func(path string) {
		rel, err := filepath.Rel(root.Dir, path)
		if err != nil {
			rel = path
		}
		result.Created = append(result.Created, rel)
	}

	if !isDir(root.LodestarDir) {
		if err := os.MkdirAll(root.LodestarDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", root.LodestarDir, err)
		}
		created(root.LodestarDir)
	}
	if !isDir(root.LogDir()) {
		if err := os.MkdirAll(root.LogDir(), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", root.LogDir(), err)
		}
		created(root.LogDir())
	}

	gitignorePath := filepath.Join(root.LodestarDir, ".gitignore")
	wrote, err := writeIfAbsent(gitignorePath, []byte(anchorGitignore), args.Force)
	if err != nil {
		return nil, err
	}
	if wrote {
		created(gitignorePath)
	}

	name := args.Name
	if name == "" {
		name = filepath.Base(root.Dir)
	}
	branch := args.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	if _, err := os.Stat(root.SpecPath()); os.IsNotExist(err) || args.Force {
		st := spec.NewStore(root, clock.System{})
		if err := st.Init(ctx, spec.NewSpec(name, branch), args.Force); err != nil {
			return nil, err
		}
		created(root.SpecPath())
	}

	if _, err := os.Stat(root.RolesPath()); os.IsNotExist(err) {
		if err := roles.WriteDefault(root.RolesPath()); err != nil {
			return nil, err
		}
		created(root.RolesPath())
	}

	if _, err := os.Stat(root.LockPath()); os.IsNotExist(err) {
		if err := os.WriteFile(root.LockPath(), nil, 0o644); err != nil {
			return nil, fmt.Errorf("creating lock sentinel: %w", err)
		}
		created(root.LockPath())
	}

	// Opening the store creates and migrates the database.
	_, statErr := os.Stat(root.RuntimePath())
	store, err := sqlite.New(ctx, root.RuntimePath())
	if err != nil {
		return nil, err
	}
	if err := store.Close(); err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		created(root.RuntimePath())
	}

	if args.AgentsMD {
		agentsPath := filepath.Join(root.Dir, "AGENTS.md")
		wrote, err := writeIfAbsent(agentsPath, []byte(agentsMD(name)), args.Force)
		if err != nil {
			return nil, err
		}
		if wrote {
			created(agentsPath)
		}
	}
	return result, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// writeIfAbsent writes data to path when the file is missing, or
// unconditionally under force. It reports whether it wrote.
func writeIfAbsent(path string, data []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
