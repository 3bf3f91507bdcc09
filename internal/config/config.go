// Package config wraps the viper singleton that merges defaults,
// config.yaml, and LODESTAR_* environment variables. Flag precedence is
// handled by the command layer; everything below flags lives here.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the configuration singleton. Call once at startup.
//
// Config file precedence: project .lodestar/config.yaml (found by
// walking up from the working directory) > ~/.config/lodestar/config.yaml
// > ~/.lodestar/config.yaml. Environment variables (LODESTAR_JSON,
// LODESTAR_LEASE_TTL, LODESTAR_AGENT_ID, ...) override the file.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD so commands work from subdirectories.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".lodestar", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory.
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "lodestar", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory fallback.
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".lodestar", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("LODESTAR")
	// Map LODESTAR_LEASE_TTL onto the "lease-ttl" key and so on.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("debug", false)
	v.SetDefault("no-color", false)
	v.SetDefault("repo", "")
	v.SetDefault("agent-id", "")
	v.SetDefault("identity", "")
	v.SetDefault("lease-ttl", "15m")
	v.SetDefault("lock-timeout", "5s")
	v.SetDefault("context-budget", 8000)
	v.SetDefault("message-limit", 50)
	v.SetDefault("watch.poll-interval", "2s")
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// Source says where a configuration value came from. Flag overrides are
// reported by the command layer; viper does not see cobra flags.
type Source string

const (
	SourceDefault    Source = "default"
	SourceConfigFile Source = "config_file"
	SourceEnvVar     Source = "env_var"
)

// ValueSource returns the origin of a configuration value.
// Priority (highest to lowest): env var > config file > default.
func ValueSource(key string) Source {
	if v == nil {
		return SourceDefault
	}
	envKey := "LODESTAR_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value in memory.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns every configuration setting as a map.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}

// WriteTo persists the current settings to the given file, creating its
// directory if needed. Used by `config set` against the repo config.
func WriteTo(path string) error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return v.WriteConfigAs(path)
}

// GetIdentity resolves a human-facing identity for display names.
// Priority chain:
//  1. flagValue (from --name or similar)
//  2. LODESTAR_IDENTITY env var / config.yaml identity field (via viper)
//  3. git config user.name
//  4. hostname
func GetIdentity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if identity := GetString("identity"); identity != "" {
		return identity
	}

	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return "unknown"
}
