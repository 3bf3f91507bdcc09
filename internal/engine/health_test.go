package engine

import (
	"context"
	"os"
	"testing"

	"github.com/lodestar-dev/lodestar/internal/paths"
)

func checkByName(t *testing.T, res *HealthResult, name string) HealthCheck {
	t.Helper()
	for _, c := range res.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q check in %+v", name, res.Checks)
	return HealthCheck{}
}

func TestCheckHealthOnUninitializedDir(t *testing.T) {
	dir := t.TempDir()
	root, err := paths.At(dir)
	if err != nil {
		t.Fatalf("paths.At failed: %v", err)
	}

	res := CheckHealth(context.Background(), root, "")
	if res.OK {
		t.Error("a bare directory should not report healthy")
	}
	if c := checkByName(t, res, "anchor"); c.OK {
		t.Error("anchor check should fail before init")
	}

	// Probing must not conjure the anchor out of nothing.
	if _, err := os.Stat(root.LodestarDir); !os.IsNotExist(err) {
		t.Errorf("health check created %s", root.LodestarDir)
	}
}

func TestCheckHealthAfterInit(t *testing.T) {
	e := newTestEnv(t)

	res := CheckHealth(e.Ctx, e.Root, "")
	if !res.OK {
		t.Fatalf("fresh repository unhealthy: %+v", res.Checks)
	}
	for _, name := range []string{"anchor", "spec", "runtime", "lock", "logs"} {
		if c := checkByName(t, res, name); !c.OK {
			t.Errorf("%s check failed: %s", name, c.Detail)
		}
	}
	if res.Version != Version {
		t.Errorf("version %s, want %s", res.Version, Version)
	}
}

func TestClientCompatibility(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		client string
		want   bool
	}{
		{"", true},       // not checking
		{Version, true},  // exact match
		{"v0.9.9", true}, // same major
		{"1.0.0", false}, // payload shapes may differ across majors
		{"not-semver", false},
	}
	for _, tc := range cases {
		res := CheckHealth(e.Ctx, e.Root, tc.client)
		if res.ClientCompatible != tc.want {
			t.Errorf("client %q compatible=%v, want %v", tc.client, res.ClientCompatible, tc.want)
		}
	}
}
