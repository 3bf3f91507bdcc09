package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the repository anchor",
	Long: `Create the .lodestar anchor: a committed spec.yaml (the task plane),
a local runtime.db (agents, leases, messages, events - never commit it),
role presets, and an AGENTS.md onboarding document.

Rerunning init is safe: existing files are kept unless --force, and the
runtime database is never overwritten.`,
	Run: func(cmd *cobra.Command, args []string) {
		if introspect(cmd, protocol.OpInit) {
			return
		}

		name, _ := cmd.Flags().GetString("name")
		branch, _ := cmd.Flags().GetString("branch")
		noAgentsMD, _ := cmd.Flags().GetBool("no-agents-md")
		force, _ := cmd.Flags().GetBool("force")
		agentsMD := !noAgentsMD

		// Nothing decided on a terminal: walk through a short form.
		if name == "" && !cmd.Flags().Changed("branch") && !jsonOutput && ui.IsTerminal() {
			name, branch, agentsMD = initWizard(agentsMD)
		}

		env := dispatchOp(protocol.OpInit, map[string]any{
			"name":           name,
			"default_branch": branch,
			"agents_md":      agentsMD,
			"force":          force,
		})
		output(env, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.InitResult)
			if !ok {
				printJSON(env)
				return
			}
			var steps []string
			for _, step := range env.Next {
				steps = append(steps, step.Cmd)
			}
			fmt.Println(ui.RenderInitReport(ui.InitReport{
				Root:        res.Root,
				SpecPath:    res.SpecPath,
				RuntimePath: res.RuntimePath,
				Created:     res.Created,
				NextSteps:   steps,
			}, ui.GetWidth()))
		})
	},
}

func initWizard(agentsMD bool) (string, string, bool) {
	name := filepath.Base(workDir())
	branch := "main"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Lodestar Setup").
				Description("A spec.yaml for the committed task plane, a runtime.db for\nthe local coordination plane. Agents join, claim, and report."),
			huh.NewInput().
				Title("Project name").
				Value(&name),
			huh.NewInput().
				Title("Default branch").
				Value(&branch),
			huh.NewConfirm().
				Title("Write AGENTS.md onboarding instructions?").
				Value(&agentsMD),
		),
	)
	// A declined or failed form falls back to the defaults.
	_ = form.Run()
	return name, branch, agentsMD
}

func init() {
	initCmd.Flags().String("name", "", "Project name (default: directory name)")
	initCmd.Flags().String("branch", "", "Default branch recorded in the spec (default: main)")
	initCmd.Flags().Bool("no-agents-md", false, "Skip writing AGENTS.md")
	initCmd.Flags().Bool("force", false, "Overwrite an existing spec and AGENTS.md (never the runtime)")
	rootCmd.AddCommand(initCmd)
}
