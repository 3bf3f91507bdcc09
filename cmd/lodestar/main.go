// Command lodestar is the command-line adapter for the coordination
// engine: every operation is a subcommand, every subcommand can emit
// the raw envelope with --json, and exit codes follow the envelope.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/logging"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/rpc"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

// Build is stamped via ldflags at release time.
var Build = "dev"

var (
	jsonOutput  bool
	repoPath    string
	agentFlag   string
	debugMode   bool
	noColor     bool
	schemaFlag  bool
	explainFlag bool

	dispatcher *rpc.Dispatcher
)

var rootCmd = &cobra.Command{
	Use:   "lodestar",
	Short: "Coordinate a fleet of coding agents through git and SQLite",
	Long: `Lodestar coordinates multiple coding agents working one repository:
a committed YAML spec defines the tasks, a local SQLite runtime holds
agents, leases, messages, and events. There is no daemon; every command
opens the state, acts, and exits.

Agents discover work with 'task next', take it with 'task claim', and
hand it back with 'task done' or 'task complete'. Machine callers pass
--json and read the envelope.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

func main() {
	defer teardown()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(2)
	}
}

// setup merges flags over config and environment, then prepares
// logging, color, and the dispatcher. Flags win; LODESTAR_* variables
// and .lodestar/config.yaml fill the gaps.
func setup(cmd *cobra.Command) error {
	if err := config.Initialize(); err != nil {
		return err
	}

	if !cmd.Flags().Changed("json") {
		jsonOutput = config.GetBool("json")
	}
	if !cmd.Flags().Changed("repo") {
		repoPath = config.GetString("repo")
	}
	if agentFlag == "" {
		agentFlag = config.GetString("agent-id")
	}
	if !cmd.Flags().Changed("no-color") {
		noColor = config.GetBool("no-color")
	}
	if !cmd.Flags().Changed("debug") {
		debugMode = config.GetBool("debug")
	}

	ui.Init(noColor || jsonOutput)

	// Diagnostics go to the repo's log directory when one exists;
	// --debug routes them to stderr instead so they are visible live.
	if debugMode {
		logging.EnableStderr()
	} else if root, err := paths.Find(workDir()); err == nil {
		_ = logging.EnableFile(root.LogDir(),
			config.GetInt("log.max-size-mb"),
			config.GetInt("log.max-backups"),
			config.GetInt("log.max-age-days"))
	}

	dispatcher = rpc.NewDispatcher(engine.Options{
		DefaultTTL:  config.GetDuration("lease-ttl"),
		LockTimeout: config.GetDuration("lock-timeout"),
	})
	return nil
}

func teardown() {
	if dispatcher != nil {
		_ = dispatcher.Close()
		dispatcher = nil
	}
	_ = logging.Close()
}

// workDir is where anchor discovery starts: --repo when given, the
// process working directory otherwise.
func workDir() string {
	if repoPath != "" {
		return repoPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// exit closes held resources before terminating; os.Exit skips
// deferred calls.
func exit(code int) {
	teardown()
	os.Exit(code)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the raw envelope as JSON")
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", "", "Repository path (default: walk up from the working directory)")
	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "", "Acting agent id (default: $LODESTAR_AGENT_ID)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Write diagnostics to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colors and decorations")
	rootCmd.PersistentFlags().BoolVar(&schemaFlag, "schema", false, "Print the operation's output schema and exit")
	rootCmd.PersistentFlags().BoolVar(&explainFlag, "explain", false, "Describe the operation and its input schema, then exit")
}
