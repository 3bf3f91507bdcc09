package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Recommend claimable work",
	Long: `Rank the claimable tasks by (priority, age, id) and explain each pick.
The recommendation is advisory: two agents may see the same candidate,
and the claim decides who gets it.`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		run(cmd, protocol.OpTaskNext, map[string]any{
			"limit": limit,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.NextResult)
			if !ok {
				printJSON(env)
				return
			}
			if len(res.Candidates) == 0 {
				fmt.Println(ui.RenderMuted("Nothing is claimable right now."))
				return
			}
			t := ui.NewTable(ui.GetWidth(), "ID", "Pri", "Title", "Why")
			for _, c := range res.Candidates {
				t.Row(c.Task.ID, fmt.Sprintf("%d", c.Task.Priority),
					truncate(c.Task.Title, 40), c.Rationale)
			}
			fmt.Println(t.String())
			if res.Count > len(res.Candidates) {
				fmt.Println(ui.RenderMuted(fmt.Sprintf("…and %d more claimable", res.Count-len(res.Candidates))))
			}
		})
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Take an exclusive lease on a task",
	Long: `Atomically acquire a lease. Exactly one contender wins; the loser gets
the holder's lease back in the error details. The lease expires on its
own unless renewed, so a crashed agent never wedges the board.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		ttl, _ := cmd.Flags().GetString("ttl")
		force, _ := cmd.Flags().GetBool("force")
		run(cmd, protocol.OpTaskClaim, map[string]any{
			"task_id": argAt(args, 0),
			"ttl":     ttl,
			"force":   force,
		}, func(env *protocol.Envelope) {
			res := claimResult(env)
			if res == nil {
				printJSON(env)
				return
			}
			fmt.Printf("%s claimed %s for %s\n", ui.RenderPass("✓"),
				ui.RenderAccent(res.Lease.TaskID), ui.RenderAccent(res.Lease.AgentID))
			fmt.Printf("  expires in %ds (%s)\n", res.Lease.ExpiresIn, res.Lease.ExpiresAt)
		})
	},
}

var taskRenewCmd = &cobra.Command{
	Use:   "renew <task-id>",
	Short: "Extend your lease before it expires",
	Args:  introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		ttl, _ := cmd.Flags().GetString("ttl")
		run(cmd, protocol.OpTaskRenew, map[string]any{
			"task_id": argAt(args, 0),
			"ttl":     ttl,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.RenewResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s renewed %s, now expires in %ds\n", ui.RenderPass("✓"),
				ui.RenderAccent(res.Lease.TaskID), res.Lease.ExpiresIn)
		})
	},
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Give a task back without finishing it",
	Long: `End your lease early so someone else can claim the task. Pass --reason
so the next agent knows what happened; it lands in the event log.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		run(cmd, protocol.OpTaskRelease, map[string]any{
			"task_id": argAt(args, 0),
			"reason":  reason,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.ReleaseResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s released %s\n", ui.RenderPass("✓"), ui.RenderAccent(res.TaskID))
		})
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark your claimed task finished",
	Long: `Move a task you hold from ready to done. Done is not the end: the task
unblocks its dependents only once a verify lands.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpTaskDone, map[string]any{
			"task_id": argAt(args, 0),
		}, func(env *protocol.Envelope) {
			tv := taskFromEnvelope(env)
			if tv == nil {
				printJSON(env)
				return
			}
			fmt.Printf("%s %s is %s\n", ui.RenderPass("✓"),
				ui.RenderAccent(tv.ID), ui.RenderStatus(string(tv.Status)))
		})
	},
}

var taskVerifyCmd = &cobra.Command{
	Use:   "verify <task-id>",
	Short: "Confirm a done task meets its acceptance criteria",
	Args:  introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpTaskVerify, map[string]any{
			"task_id": argAt(args, 0),
		}, renderVerified)
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark done and verified in one step",
	Long: `Finish and self-verify a claimed task in one atomic move. Use it when
the acceptance criteria are checked by the same agent that did the
work; use done + verify when review is split.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpTaskComplete, map[string]any{
			"task_id": argAt(args, 0),
		}, renderVerified)
	},
}

func renderVerified(env *protocol.Envelope) {
	res, ok := env.Data.(*engine.VerifyResult)
	if !ok {
		printJSON(env)
		return
	}
	fmt.Printf("%s %s is %s\n", ui.RenderPass("✓"),
		ui.RenderAccent(res.Task.ID), ui.RenderStatus(string(res.Task.Status)))
	if len(res.NewlyReadyTaskIDs) > 0 {
		fmt.Printf("  now claimable: %s\n",
			ui.RenderAccent(strings.Join(res.NewlyReadyTaskIDs, ", ")))
	}
}

func init() {
	taskNextCmd.Flags().Int("limit", 3, "How many candidates to show (0 for all)")
	taskClaimCmd.Flags().String("ttl", "", "Lease duration like 15m (default from config)")
	taskClaimCmd.Flags().Bool("force", false, "Skip the advisory lock-overlap warnings")
	taskRenewCmd.Flags().String("ttl", "", "Extension duration like 15m (default from config)")
	taskReleaseCmd.Flags().String("reason", "", "Why the task goes back")

	taskCmd.AddCommand(taskNextCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskRenewCmd)
	taskCmd.AddCommand(taskReleaseCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskVerifyCmd)
	taskCmd.AddCommand(taskCompleteCmd)
}
