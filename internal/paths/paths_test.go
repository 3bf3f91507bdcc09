package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindWalksUp(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, DirName), 0o755); err != nil {
		t.Fatalf("mkdir anchor: %v", err)
	}
	nested := filepath.Join(repo, "src", "internal", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	root, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	// t.TempDir may sit behind a symlink (macOS); compare resolved paths.
	want, _ := filepath.EvalSymlinks(repo)
	got, _ := filepath.EvalSymlinks(root.Dir)
	if got != want {
		t.Errorf("root dir = %q, want %q", got, want)
	}
	if filepath.Base(root.SpecPath()) != SpecFile {
		t.Errorf("spec path = %q", root.SpecPath())
	}
}

func TestFindNotInitialized(t *testing.T) {
	dir := t.TempDir()
	if _, err := Find(dir); err == nil {
		t.Fatal("expected error for directory without anchor")
	}
}

func TestFindEnvOverride(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, DirName), 0o755); err != nil {
		t.Fatalf("mkdir anchor: %v", err)
	}
	t.Setenv(EnvRoot, repo)

	root, err := Find(t.TempDir()) // start dir has no anchor; env wins
	if err != nil {
		t.Fatalf("Find with %s: %v", EnvRoot, err)
	}
	want, _ := filepath.EvalSymlinks(repo)
	got, _ := filepath.EvalSymlinks(root.Dir)
	if got != want {
		t.Errorf("root dir = %q, want %q", got, want)
	}
}

func TestFindEnvOverrideMissingAnchor(t *testing.T) {
	t.Setenv(EnvRoot, t.TempDir())
	if _, err := Find(""); err == nil {
		t.Fatal("expected error when override dir has no anchor")
	}
}

func TestRootPaths(t *testing.T) {
	root, err := At("/repo")
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"spec", root.SpecPath(), filepath.Join("/repo", DirName, SpecFile)},
		{"runtime", root.RuntimePath(), filepath.Join("/repo", DirName, RuntimeFile)},
		{"lock", root.LockPath(), filepath.Join("/repo", DirName, LockFile)},
		{"roles", root.RolesPath(), filepath.Join("/repo", DirName, RolesFile)},
		{"logs", root.LogDir(), filepath.Join("/repo", DirName, LogDirName)},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s path = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
