package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register and track agents",
}

var agentJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Register this agent and get an agent id",
	Long: `Register an agent in the runtime plane. The returned agent id is the
identity every other command acts under; export it as LODESTAR_AGENT_ID
so the session keeps it.

A role with no explicit capabilities inherits the preset from
.lodestar/roles.toml.`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		caps, _ := cmd.Flags().GetStringSlice("cap")
		id, _ := cmd.Flags().GetString("id")

		run(cmd, protocol.OpAgentJoin, map[string]any{
			"agent_id":     id,
			"display_name": config.GetIdentity(name),
			"role":         role,
			"capabilities": caps,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.JoinResult)
			if !ok {
				printJSON(env)
				return
			}
			a := res.Agent
			fmt.Printf("%s joined as %s", ui.RenderPass("✓"), ui.RenderAccent(a.AgentID))
			if a.Role != "" {
				fmt.Printf(" (%s)", a.Role)
			}
			fmt.Println()
			if len(a.Capabilities) > 0 {
				fmt.Printf("  capabilities: %s\n", strings.Join(a.Capabilities, ", "))
			}
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	Run: func(cmd *cobra.Command, args []string) {
		activeOnly, _ := cmd.Flags().GetBool("active")
		run(cmd, protocol.OpAgentList, map[string]any{
			"active_only": activeOnly,
		}, renderAgentList)
	},
}

var agentFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find agents by name, role, or capability",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		capability, _ := cmd.Flags().GetString("cap")
		run(cmd, protocol.OpAgentFind, map[string]any{
			"name":       name,
			"role":       role,
			"capability": capability,
		}, renderAgentList)
	},
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Refresh this agent's last-seen timestamp",
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpAgentHeartbeat, map[string]any{}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.HeartbeatResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s %s seen at %s\n", ui.RenderPass("✓"),
				ui.RenderAccent(res.AgentID), res.LastSeenAt)
		})
	},
}

var agentLeaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Sign this agent off",
	Long: `Clear the agent's presence. The registration row stays so leases and
events keep a stable owner; any leases it still holds lapse on their
own schedule.`,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpAgentLeave, map[string]any{}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.LeaveResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s %s left\n", ui.RenderPass("✓"), ui.RenderAccent(res.AgentID))
			if len(res.HeldTaskIDs) > 0 {
				fmt.Println(ui.RenderMuted("  still holding " + strings.Join(res.HeldTaskIDs, ", ") +
					"; the leases lapse on their own"))
			}
		})
	},
}

func renderAgentList(env *protocol.Envelope) {
	res, ok := env.Data.(*engine.AgentListResult)
	if !ok {
		printJSON(env)
		return
	}
	if len(res.Agents) == 0 {
		fmt.Println(ui.RenderMuted("No agents registered."))
		return
	}
	t := ui.NewTable(ui.GetWidth(), "ID", "Name", "Role", "Capabilities", "Last seen")
	for _, a := range res.Agents {
		lastSeen := a.LastSeenAt
		if lastSeen == "" {
			lastSeen = ui.RenderMuted("left")
		}
		t.Row(a.AgentID, a.DisplayName, a.Role, strings.Join(a.Capabilities, ", "), lastSeen)
	}
	fmt.Println(t.String())
}

func init() {
	agentJoinCmd.Flags().String("id", "", "Requested agent id (default: generated)")
	agentJoinCmd.Flags().String("name", "", "Display name (default: identity from config/git/hostname)")
	agentJoinCmd.Flags().String("role", "", "Role preset from roles.toml")
	agentJoinCmd.Flags().StringSlice("cap", nil, "Capability tag (repeatable)")
	agentListCmd.Flags().Bool("active", false, "Only agents seen in the last 10 minutes")
	agentFindCmd.Flags().String("name", "", "Substring match on display name")
	agentFindCmd.Flags().String("role", "", "Exact role match")
	agentFindCmd.Flags().String("cap", "", "Capability the agent must carry")

	agentCmd.AddCommand(agentJoinCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentFindCmd)
	agentCmd.AddCommand(agentHeartbeatCmd)
	agentCmd.AddCommand(agentLeaveCmd)
	rootCmd.AddCommand(agentCmd)
}
