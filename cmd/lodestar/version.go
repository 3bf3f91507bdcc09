package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/engine"
)

// Commit is the git revision the binary was built from, set via ldflags
// or recovered from build info.
var Commit = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		commit := resolveCommit()
		if jsonOutput {
			result := map[string]string{
				"version": engine.Version,
				"build":   Build,
			}
			if commit != "" {
				result["commit"] = commit
			}
			printJSON(result)
			return
		}
		if commit != "" {
			fmt.Printf("lodestar version %s (%s: %s)\n", engine.Version, Build, shortCommit(commit))
			return
		}
		fmt.Printf("lodestar version %s (%s)\n", engine.Version, Build)
	},
}

func resolveCommit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}
	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
