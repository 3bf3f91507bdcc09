package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage/sqlite"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "One screen of both planes",
	Long: `Summarize the repository: task counts by status, the agent roster,
active leases, unread messages, and the event log tail.`,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpRepoStatus, nil, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.StatusResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Println(ui.RenderStatusReport(ui.StatusReport{
				Project:        res.Project,
				DefaultBranch:  res.DefaultBranch,
				Ready:          res.Tasks.Ready,
				Done:           res.Tasks.Done,
				Verified:       res.Tasks.Verified,
				Deleted:        res.Tasks.Deleted,
				Claimable:      res.Tasks.Claimable,
				AgentsActive:   res.Agents.Active,
				AgentsTotal:    res.Agents.Total,
				LeasesActive:   res.LeasesActive,
				MessagesUnread: res.MessagesUnread,
				LastEventID:    res.LastEventID,
			}, ui.GetWidth()))
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump both planes as one JSON snapshot",
	Long: `Assemble a snapshot of the spec and runtime planes: tasks with lease
state, the agent roster, active leases, and log position. --out writes
it to a file as indented JSON; without it the snapshot prints to
stdout.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		run(cmd, protocol.OpExportSnapshot, map[string]any{
			"out": out,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.Snapshot)
			if !ok {
				printJSON(env)
				return
			}
			if res.WrittenTo != "" {
				fmt.Printf("%s snapshot written to %s\n", ui.RenderPass("✓"), ui.RenderAccent(res.WrittenTo))
				return
			}
			printJSON(res)
		})
	},
}

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Aliases: []string{"health"},
	Short:   "Probe every moving part and report per check",
	Long: `Run the health checks: anchor, spec plane, runtime plane, lock file,
log directory, and client/engine version compatibility. Each check
reports independently, so one broken plane does not mask the rest.

The command works on an uninitialized or corrupt repository; that is
the situation it is for.`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		run(cmd, protocol.OpHealthCheck, nil, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.HealthResult)
			if !ok {
				printJSON(env)
				return
			}
			for _, check := range res.Checks {
				mark := ui.RenderPass("✓")
				if !check.OK {
					mark = ui.RenderError("✗")
				}
				line := fmt.Sprintf("%s %-10s", mark, check.Name)
				if check.Detail != "" {
					line += "  " + ui.RenderMuted(check.Detail)
				}
				fmt.Println(line)
			}
			if verbose {
				fmt.Println()
				fmt.Println(ui.RenderBold("Registered migrations (idempotent, run on every open)"))
				for _, m := range sqlite.ListMigrations() {
					fmt.Printf("  %-28s %s\n", m.Name, ui.RenderMuted(m.Description))
				}
			}
			fmt.Println()
			if res.OK {
				fmt.Printf("%s engine %s, all checks passed\n", ui.RenderPass("✓"), res.Version)
			} else {
				fmt.Printf("%s engine %s, some checks failed\n", ui.RenderError("✗"), res.Version)
			}
			if !res.ClientCompatible {
				fmt.Println(ui.RenderWarn("⚠ this client is newer than the engine schema; upgrade the repository"))
			}
		})
	},
}

func init() {
	exportCmd.Flags().String("out", "", "Write the snapshot to this path instead of stdout")
	doctorCmd.Flags().Bool("verbose", false, "Also list the registered schema migrations")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(doctorCmd)
}
