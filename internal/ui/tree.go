package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
)

// GraphNodeView is one task as the tree renderer needs it; the command
// layer maps engine payloads into this shape.
type GraphNodeView struct {
	ID           string
	Title        string
	Status       string
	Claimable    bool
	LeaseAgentID string
}

// GraphView is a dependency DAG ready for display. Edges point from a
// dependency to the task it unblocks; Order is topological.
type GraphView struct {
	Nodes []GraphNodeView
	Edges [][2]string
	Order []string
}

// RenderTaskTree draws the dependency DAG with lipgloss/tree, roots
// (tasks with no dependencies) first. A task with several dependents
// appears under each; the graph is acyclic so the walk terminates.
func RenderTaskTree(g GraphView) string {
	if len(g.Nodes) == 0 {
		return TableHintStyle.Render("No tasks in the graph.")
	}

	nodes := make(map[string]GraphNodeView, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}
	dependents := make(map[string][]string)
	indegree := make(map[string]int)
	for _, e := range g.Edges {
		dependents[e[0]] = append(dependents[e[0]], e[1])
		indegree[e[1]]++
	}

	enumStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	var build func(id string) *tree.Tree
	build = func(id string) *tree.Tree {
		t := tree.New().Root(treeNodeLabel(nodes[id]))
		t.EnumeratorStyle(enumStyle)
		for _, kid := range dependents[id] {
			t.Child(build(kid))
		}
		return t
	}

	root := tree.New().Root(RenderBold("tasks"))
	root.EnumeratorStyle(enumStyle)
	for _, id := range g.Order {
		if indegree[id] == 0 {
			root.Child(build(id))
		}
	}
	return root.String()
}

func treeNodeLabel(n GraphNodeView) string {
	label := RenderAccent(n.ID)
	if n.Title != "" {
		label += "  " + n.Title
	}
	label += "  [" + RenderStatus(n.Status) + "]"
	switch {
	case n.LeaseAgentID != "":
		label += RenderWarn("  ⏳ " + n.LeaseAgentID)
	case n.Claimable:
		label += RenderPass("  ● claimable")
	}
	return label
}
