package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/spec"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect, and edit tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks from the committed spec, enriched with lease state from the
runtime plane. With no filter, tombstoned tasks are hidden; pass
--status all to include them.`,
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		label, _ := cmd.Flags().GetString("label")
		claimable, _ := cmd.Flags().GetBool("claimable")
		claimed, _ := cmd.Flags().GetBool("claimed")
		run(cmd, protocol.OpTaskList, map[string]any{
			"status":         status,
			"label":          label,
			"claimable_only": claimable,
			"claimed_only":   claimed,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.TaskListResult)
			if !ok {
				printJSON(env)
				return
			}
			renderTaskTable(res.Tasks)
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task with its graph neighborhood",
	Args:  introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, protocol.OpTaskGet, map[string]any{
			"task_id": argAt(args, 0),
		}, renderTaskDetail)
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task in the spec plane",
	Long: `Create a task. The title is everything after the flags, so quoting is
optional: 'lodestar task create wire the parser' works.

Binding a task to its requirements document with --prd freezes an
excerpt and a content hash at creation time, which is what makes drift
detectable later.`,
	Args: introspectArgs(cobra.MinimumNArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		id, _ := cmd.Flags().GetString("id")
		description, _ := cmd.Flags().GetString("description")
		criteria, _ := cmd.Flags().GetString("criteria")
		labels, _ := cmd.Flags().GetStringSlice("label")
		deps, _ := cmd.Flags().GetStringSlice("dep")
		locks, _ := cmd.Flags().GetStringSlice("lock")
		prdSource, _ := cmd.Flags().GetString("prd")
		prdRefs, _ := cmd.Flags().GetStringSlice("ref")
		excerpt, _ := cmd.Flags().GetString("excerpt")

		wire := map[string]any{
			"id":                  id,
			"title":               strings.Join(args, " "),
			"description":         description,
			"acceptance_criteria": criteria,
			"labels":              labels,
			"depends_on":          deps,
			"locks":               locks,
			"prd_source":          prdSource,
			"prd_excerpt":         excerpt,
		}
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetInt("priority")
			wire["priority"] = p
		}
		if len(prdRefs) > 0 {
			refs, err := parsePRDRefs(prdRefs)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", ui.RenderError("✗"), err)
				exit(2)
			}
			wire["prd_refs"] = refs
		}
		run(cmd, protocol.OpTaskCreate, wire, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.TaskResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s created %s  %s\n", ui.RenderPass("✓"),
				ui.RenderAccent(res.Task.ID), res.Task.Title)
			if !res.Task.Claimable {
				fmt.Println(ui.RenderMuted("  blocked until its dependencies are verified"))
			}
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Edit task fields",
	Long: `Edit a task's editable fields. Only flags you pass change anything;
passing an empty value clears the field. Status is not editable here;
it only moves through claim, done, verify, complete, and delete.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		wire := map[string]any{"task_id": argAt(args, 0)}
		flags := cmd.Flags()
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			wire["title"] = v
		}
		if flags.Changed("description") {
			v, _ := flags.GetString("description")
			wire["description"] = v
		}
		if flags.Changed("criteria") {
			v, _ := flags.GetString("criteria")
			wire["acceptance_criteria"] = v
		}
		if flags.Changed("priority") {
			v, _ := flags.GetInt("priority")
			wire["priority"] = v
		}
		if flags.Changed("label") {
			v, _ := flags.GetStringSlice("label")
			wire["labels"] = v
		}
		if flags.Changed("dep") {
			v, _ := flags.GetStringSlice("dep")
			wire["depends_on"] = v
		}
		if flags.Changed("lock") {
			v, _ := flags.GetStringSlice("lock")
			wire["locks"] = v
		}
		run(cmd, protocol.OpTaskUpdate, wire, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.TaskResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s updated %s\n", ui.RenderPass("✓"), ui.RenderAccent(res.Task.ID))
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Tombstone a task",
	Long: `Mark a task deleted. The entry stays in the spec as a tombstone so its
id is never reused. A task that others depend on cannot go alone:
--cascade tombstones the whole dependent subtree.`,
	Args: introspectArgs(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		cascade, _ := cmd.Flags().GetBool("cascade")
		yes, _ := cmd.Flags().GetBool("yes")
		if cascade && !yes && !jsonOutput {
			ok := ui.PromptYesNo(fmt.Sprintf("Delete %s and every task that depends on it?", argAt(args, 0)), false)
			if !ok {
				fmt.Println(ui.RenderMuted("aborted"))
				return
			}
		}
		run(cmd, protocol.OpTaskDelete, map[string]any{
			"task_id": argAt(args, 0),
			"cascade": cascade,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.DeleteResult)
			if !ok {
				printJSON(env)
				return
			}
			fmt.Printf("%s deleted %s\n", ui.RenderPass("✓"),
				strings.Join(res.DeletedTaskIDs, ", "))
		})
	},
}

func renderTaskTable(tasks []*engine.TaskView) {
	if len(tasks) == 0 {
		fmt.Println(ui.RenderMuted("No tasks match."))
		return
	}
	t := ui.NewTable(ui.GetWidth(), "ID", "Pri", "Status", "Title", "Holder")
	for _, tv := range tasks {
		holder := ""
		switch {
		case tv.Lease != nil:
			holder = fmt.Sprintf("⏳ %s", tv.Lease.AgentID)
		case tv.Claimable:
			holder = ui.RenderPass("● claimable")
		}
		t.Row(tv.ID, strconv.Itoa(tv.Priority), ui.RenderStatus(string(tv.Status)),
			truncate(tv.Title, 48), holder)
	}
	fmt.Println(t.String())
}

func renderTaskDetail(env *protocol.Envelope) {
	res, ok := env.Data.(*engine.TaskDetail)
	if !ok {
		printJSON(env)
		return
	}
	tv := res.Task
	fmt.Printf("%s  %s\n", ui.RenderBold(tv.ID), tv.Title)
	fmt.Printf("  status: %s  priority: %d\n", ui.RenderStatus(string(tv.Status)), tv.Priority)
	if len(tv.Labels) > 0 {
		fmt.Printf("  labels: %s\n", strings.Join(tv.Labels, ", "))
	}
	if len(tv.Locks) > 0 {
		fmt.Printf("  locks: %s\n", strings.Join(tv.Locks, ", "))
	}
	if len(res.Deps) > 0 {
		ids := make([]string, 0, len(res.Deps))
		for id := range res.Deps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("%s (%s)", id, ui.RenderStatus(res.Deps[id])))
		}
		fmt.Printf("  depends on: %s\n", strings.Join(parts, ", "))
	}
	if len(res.Dependents) > 0 {
		fmt.Printf("  blocks: %s\n", strings.Join(res.Dependents, ", "))
	}
	switch {
	case tv.Lease != nil:
		fmt.Printf("  lease: %s, expires in %ds\n",
			ui.RenderAccent(tv.Lease.AgentID), tv.Lease.ExpiresIn)
	case tv.Claimable:
		fmt.Printf("  %s\n", ui.RenderPass("● claimable"))
	}
	if tv.PRD != nil && tv.PRD.Source != "" {
		fmt.Printf("  prd: %s%s\n", tv.PRD.Source, renderRefs(tv.PRD.Refs))
	}
	fmt.Printf("  created: %s  updated: %s\n", ui.RenderMuted(tv.CreatedAt), ui.RenderMuted(tv.UpdatedAt))
	if tv.Description != "" {
		fmt.Printf("\n%s\n%s\n", ui.RenderBold("Description"), indent(tv.Description, "  "))
	}
	if tv.AcceptanceCriteria != "" {
		fmt.Printf("\n%s\n%s\n", ui.RenderBold("Acceptance criteria"), indent(tv.AcceptanceCriteria, "  "))
	}
}

func renderRefs(refs []spec.PRDRef) string {
	if len(refs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		s := "#" + r.Anchor
		if len(r.Lines) == 2 {
			s += fmt.Sprintf(":%d-%d", r.Lines[0], r.Lines[1])
		}
		parts = append(parts, s)
	}
	return " " + strings.Join(parts, " ")
}

// parsePRDRefs turns --ref values into structured refs. Accepted forms:
// "anchor", "anchor:12-40", "anchor:12".
func parsePRDRefs(raw []string) ([]spec.PRDRef, error) {
	refs := make([]spec.PRDRef, 0, len(raw))
	for _, r := range raw {
		anchor, span, ok := strings.Cut(r, ":")
		if strings.TrimSpace(anchor) == "" {
			return nil, fmt.Errorf("ref %q has no anchor", r)
		}
		ref := spec.PRDRef{Anchor: strings.TrimPrefix(anchor, "#")}
		if ok {
			lo, hi, err := parseLineSpan(span)
			if err != nil {
				return nil, fmt.Errorf("ref %q: %w", r, err)
			}
			ref.Lines = []int{lo, hi}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseLineSpan(span string) (int, int, error) {
	from, to, ranged := strings.Cut(span, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil || lo < 1 {
		return 0, 0, fmt.Errorf("%q is not a 1-based line range like 12-40", span)
	}
	if !ranged {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil || hi < lo {
		return 0, 0, fmt.Errorf("%q is not a 1-based line range like 12-40", span)
	}
	return lo, hi, nil
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func init() {
	taskListCmd.Flags().String("status", "", "Filter by status: ready, done, verified, deleted, all")
	taskListCmd.Flags().String("label", "", "Only tasks carrying this label")
	taskListCmd.Flags().Bool("claimable", false, "Only tasks claimable right now")
	taskListCmd.Flags().Bool("claimed", false, "Only tasks under an active lease")

	taskCreateCmd.Flags().String("id", "", "Explicit task id (default: slug of the title)")
	taskCreateCmd.Flags().StringP("description", "d", "", "What the task is about")
	taskCreateCmd.Flags().String("criteria", "", "Acceptance criteria the verifier checks")
	taskCreateCmd.Flags().IntP("priority", "p", 0, "Priority, lower schedules earlier (default 100)")
	taskCreateCmd.Flags().StringSliceP("label", "l", nil, "Label (repeatable)")
	taskCreateCmd.Flags().StringSlice("dep", nil, "Task id this one depends on (repeatable)")
	taskCreateCmd.Flags().StringSlice("lock", nil, "Path glob this task wants exclusive (repeatable)")
	taskCreateCmd.Flags().String("prd", "", "Requirements document to bind, relative to the repo root")
	taskCreateCmd.Flags().StringSlice("ref", nil, "PRD section: anchor or anchor:12-40 (repeatable)")
	taskCreateCmd.Flags().String("excerpt", "", "Frozen excerpt; default is cut from the refs")

	taskUpdateCmd.Flags().String("title", "", "New title")
	taskUpdateCmd.Flags().StringP("description", "d", "", "New description")
	taskUpdateCmd.Flags().String("criteria", "", "New acceptance criteria")
	taskUpdateCmd.Flags().IntP("priority", "p", 0, "New priority")
	taskUpdateCmd.Flags().StringSliceP("label", "l", nil, "Replacement label set")
	taskUpdateCmd.Flags().StringSlice("dep", nil, "Replacement dependency set")
	taskUpdateCmd.Flags().StringSlice("lock", nil, "Replacement lock set")

	taskDeleteCmd.Flags().Bool("cascade", false, "Also tombstone every dependent task")
	taskDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the cascade confirmation")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
