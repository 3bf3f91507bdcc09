package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var taskContextCmd = &cobra.Command{
	Use:   "context <task-id>",
	Short: "Deliver the task's PRD context",
	Long: `Assemble the requirements context an agent needs before touching a
task: the frozen excerpt, the referenced sections as they read today,
and a drift warning when the source document moved on since the task
was cut from it.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		budget, _ := cmd.Flags().GetInt("budget")
		if !cmd.Flags().Changed("budget") {
			budget = config.GetInt("context-budget")
		}
		run(cmd, protocol.OpTaskContext, map[string]any{
			"task_id": argAt(args, 0),
			"budget":  budget,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.ContextResult)
			if !ok {
				printJSON(env)
				return
			}
			if res.Body == "" {
				fmt.Println(ui.RenderMuted("No PRD context bound to this task."))
				return
			}
			fmt.Printf("%s  %s\n", ui.RenderBold(res.TaskID), ui.RenderMuted(res.Source))
			if res.Drift.Changed {
				fmt.Println(ui.RenderWarn("⚠ the source document changed after this task froze its excerpt"))
			}
			fmt.Print(renderMarkdown(res.Body))
			if res.Truncated {
				fmt.Println(ui.RenderMuted(fmt.Sprintf("…truncated to the %d-byte budget", res.Budget)))
			}
		})
	},
}

var taskGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the dependency graph",
	Long: `Dump the dependency graph. The default view is a tree on a terminal
and JSON elsewhere; --format dot emits Graphviz for rendering
elsewhere.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		run(cmd, protocol.OpTaskGraph, map[string]any{
			"format": format,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.GraphResult)
			if !ok {
				printJSON(env)
				return
			}
			switch format {
			case "dot":
				fmt.Print(res.Rendered)
			case "json":
				printJSON(env)
			default:
				if len(res.Nodes) == 0 {
					fmt.Println(ui.RenderMuted("No tasks yet."))
					return
				}
				fmt.Println(ui.RenderTaskTree(graphView(res)))
			}
		})
	},
}

// graphView maps the engine payload into the ui's render shape so the
// ui package never imports the engine.
func graphView(res *engine.GraphResult) ui.GraphView {
	view := ui.GraphView{Order: res.Order}
	view.Nodes = make([]ui.GraphNodeView, len(res.Nodes))
	for i, n := range res.Nodes {
		view.Nodes[i] = ui.GraphNodeView{
			ID:           n.ID,
			Title:        n.Title,
			Status:       n.Status,
			Claimable:    n.Claimable,
			LeaseAgentID: n.LeaseAgentID,
		}
	}
	view.Edges = make([][2]string, len(res.Edges))
	for i, e := range res.Edges {
		view.Edges[i] = [2]string{e.From, e.To}
	}
	return view
}

// renderMarkdown pretty-prints PRD markdown for the terminal. Any
// renderer failure falls back to the raw text, which still answers the
// agent's question.
func renderMarkdown(text string) string {
	style := glamour.WithAutoStyle()
	if !ui.ShouldUseColor() {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(ui.GetWidth()))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

func init() {
	taskContextCmd.Flags().Int("budget", 0, "Context body cap in bytes (default from config)")
	taskGraphCmd.Flags().String("format", "", "Output format: json, dot, or tree")

	taskCmd.AddCommand(taskContextCmd)
	taskCmd.AddCommand(taskGraphCmd)
}
