package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/spec"
)

// GraphNode is one live task in the dependency graph.
type GraphNode struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Priority     int    `json:"priority"`
	Claimable    bool   `json:"claimable"`
	LeaseAgentID string `json:"lease_agent_id,omitempty"`
}

// GraphEdge points from a dependency to the task it unblocks.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphResult is the task.graph payload. Order is a topological sort,
// dependencies first; tombstoned tasks and their edges are omitted.
// Rendered carries the DOT or tree text when that format was asked for.
type GraphResult struct {
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	Order    []string    `json:"order"`
	Rendered string      `json:"rendered,omitempty"`
}

// Graph exports the dependency graph with lease holders joined in.
func (e *Engine) Graph(ctx context.Context) (*GraphResult, error) {
	s, err := e.spec.Load()
	if err != nil {
		return nil, err
	}
	leases, err := e.activeLeaseIndex(ctx)
	if err != nil {
		return nil, err
	}

	result := &GraphResult{Order: spec.TopoOrder(s)}
	for _, t := range s.Tasks() {
		if t.Status == spec.StatusDeleted {
			continue
		}
		node := GraphNode{
			ID:        t.ID,
			Title:     t.Title,
			Status:    string(t.Status),
			Priority:  t.Priority,
			Claimable: spec.IsClaimable(t, s) && leases[t.ID] == nil,
		}
		if l := leases[t.ID]; l != nil {
			node.LeaseAgentID = l.AgentID
		}
		result.Nodes = append(result.Nodes, node)

		for _, dep := range t.DependsOn {
			if target, ok := s.Get(dep); ok && target.Status != spec.StatusDeleted {
				result.Edges = append(result.Edges, GraphEdge{From: dep, To: t.ID})
			}
		}
	}
	return result, nil
}

// DOT renders the graph in Graphviz syntax, left to right, one node
// per task labeled with its ID and a shortened title.
func (g *GraphResult) DOT() string {
	var b strings.Builder
	b.WriteString("digraph tasks {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=rounded];\n")
	for _, n := range g.Nodes {
		// \n inside a DOT label is a line break; it must reach the
		// output as the two characters backslash-n, so the label is
		// assembled by hand rather than with %q.
		label := n.ID
		if n.Title != "" {
			label += `\n` + dotEscape(shorten(n.Title, 20))
		}
		var color string
		switch n.Status {
		case string(spec.StatusVerified):
			color = ", color=green"
		case string(spec.StatusDone):
			color = ", color=blue"
		default:
			if n.LeaseAgentID != "" {
				color = ", color=orange"
			}
		}
		fmt.Fprintf(&b, "  %q [label=\"%s\"%s];\n", n.ID, label, color)
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
	}
	b.WriteString("}\n")
	return b.String()
}

// Tree renders the graph as indented plain text, roots first. A task
// with several dependents appears under each of them; the DAG is
// acyclic so the walk terminates.
func (g *GraphResult) Tree() string {
	nodes := make(map[string]GraphNode, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}
	dependents := make(map[string][]string)
	indegree := make(map[string]int)
	for _, e := range g.Edges {
		dependents[e.From] = append(dependents[e.From], e.To)
		indegree[e.To]++
	}

	var b strings.Builder
	var walk func(id, prefix string)
	walk = func(id, prefix string) {
		kids := dependents[id]
		for i, kid := range kids {
			connector, childPrefix := "├── ", prefix+"│   "
			if i == len(kids)-1 {
				connector, childPrefix = "└── ", prefix+"    "
			}
			b.WriteString(prefix + connector + treeLine(nodes[kid]) + "\n")
			walk(kid, childPrefix)
		}
	}
	for _, id := range g.Order {
		if indegree[id] == 0 {
			b.WriteString(treeLine(nodes[id]) + "\n")
			walk(id, "")
		}
	}
	return b.String()
}

func treeLine(n GraphNode) string {
	qualifier := n.Status
	switch {
	case n.LeaseAgentID != "":
		qualifier += ", claimed by " + n.LeaseAgentID
	case n.Claimable:
		qualifier += ", claimable"
	case n.Status == string(spec.StatusReady):
		qualifier += ", blocked"
	}
	line := n.ID
	if n.Title != "" {
		line += "  " + shorten(n.Title, 40)
	}
	return line + "  [" + qualifier + "]"
}

func shorten(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func dotEscape(s string) string {
	return strings.NewReplacer(`"`, `\"`, "\n", `\n`).Replace(s)
}
