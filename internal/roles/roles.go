// Package roles loads named capability presets from .lodestar/roles.toml.
// When an agent joins with a role but no capabilities, the matching
// preset fills them in.
package roles

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Preset is one named role with its default capabilities.
type Preset struct {
	Description  string   `toml:"description,omitempty"`
	Capabilities []string `toml:"capabilities"`
}

// Set is a loaded collection of presets keyed by lower-cased role name.
type Set struct {
	presets map[string]Preset
}

// file is the on-disk shape of roles.toml.
type file struct {
	Roles map[string]Preset `toml:"roles"`
}

// DefaultPresets returns the presets written by init. Projects edit
// roles.toml to suit their own division of labor.
func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		"implementer": {
			Description:  "Writes code and tests for claimed tasks",
			Capabilities: []string{"code", "test"},
		},
		"reviewer": {
			Description:  "Verifies completed tasks against acceptance criteria",
			Capabilities: []string{"review", "verify"},
		},
		"coordinator": {
			Description:  "Plans work, routes tasks, and answers questions",
			Capabilities: []string{"plan", "triage"},
		},
	}
}

// Load reads presets from path. A missing file is not an error; it
// yields an empty set so join proceeds without preset fill.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Set{presets: map[string]Preset{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read role presets: %w", err)
	}
	return Parse(data)
}

// Parse decodes roles.toml content.
func Parse(data []byte) (*Set, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse role presets: %w", err)
	}
	set := &Set{presets: make(map[string]Preset, len(f.Roles))}
	for name, p := range f.Roles {
		set.presets[strings.ToLower(name)] = p
	}
	return set, nil
}

// Capabilities returns the preset capabilities for role, or nil when no
// preset matches. Lookup is case-insensitive.
func (s *Set) Capabilities(role string) []string {
	if s == nil || role == "" {
		return nil
	}
	p, ok := s.presets[strings.ToLower(role)]
	if !ok {
		return nil
	}
	out := make([]string, len(p.Capabilities))
	copy(out, p.Capabilities)
	return out
}

// Names returns the preset role names in sorted order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of loaded presets.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.presets)
}

// Encode renders presets as roles.toml content, role names sorted.
func Encode(presets map[string]Preset) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# Role presets for agent join. An agent joining with --role and no\n")
	buf.WriteString("# explicit capabilities inherits the preset's capabilities.\n\n")
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(file{Roles: presets}); err != nil {
		return nil, fmt.Errorf("failed to encode role presets: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default presets to path unless it already
// exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := Encode(DefaultPresets())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write role presets: %w", err)
	}
	return nil
}
