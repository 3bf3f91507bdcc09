package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// InitReport aggregates what init laid down, for the human rendering.
type InitReport struct {
	Root        string
	SpecPath    string
	RuntimePath string
	Created     []string
	NextSteps   []string
}

// RenderInitReport generates the init summary: what was written, where
// the two planes live, and what to run next.
func RenderInitReport(res InitReport, width int) string {
	var sections []string

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPass).
		Render("✓ Lodestar repository initialized")
	sections = append(sections, header, "")

	if len(res.Created) > 0 {
		l := list.New().
			Enumerator(func(_ list.Items, _ int) string { return RenderPass("✓") }).
			EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))
		for _, f := range res.Created {
			l.Item(f)
		}
		sections = append(sections, l.String(), "")
	} else {
		sections = append(sections, TableHintStyle.Render("Everything was already in place."), "")
	}

	detailsRows := [][]string{
		{"Root", res.Root},
		{"Spec (commit this)", res.SpecPath},
		{"Runtime (never commit)", res.RuntimePath},
	}
	summary := table.New().
		Headers("Plane", "Path").
		Rows(detailsRows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})
	sections = append(sections, summary.String(), "")

	if len(res.NextSteps) > 0 {
		sections = append(sections, lipgloss.NewStyle().Bold(true).Render("Next Steps:"))
		for _, cmd := range res.NextSteps {
			sections = append(sections, "  • "+RenderAccent(cmd))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// StatusReport is the repo.status payload as the renderer needs it.
type StatusReport struct {
	Project       string
	DefaultBranch string

	Ready, Done, Verified, Deleted, Claimable int
	AgentsActive, AgentsTotal                 int
	LeasesActive                              int
	MessagesUnread                            int
	LastEventID                               int64
}

// RenderStatusReport draws the one-screen repo overview.
func RenderStatusReport(s StatusReport, width int) string {
	var sections []string

	title := s.Project
	if title == "" {
		title = "(unnamed project)"
	}
	sections = append(sections,
		RenderBold(title)+TableHintStyle.Render("  branch "+s.DefaultBranch), "")

	rows := [][]string{
		{"Tasks", fmt.Sprintf("%s ready · %s done · %s verified · %s deleted",
			RenderAccent(fmt.Sprint(s.Ready)),
			RenderWarn(fmt.Sprint(s.Done)),
			RenderPass(fmt.Sprint(s.Verified)),
			RenderMuted(fmt.Sprint(s.Deleted)))},
		{"Claimable", RenderPass(fmt.Sprint(s.Claimable))},
		{"Agents", fmt.Sprintf("%d active of %d", s.AgentsActive, s.AgentsTotal)},
		{"Leases", fmt.Sprint(s.LeasesActive)},
		{"Unread", fmt.Sprint(s.MessagesUnread)},
		{"Last event", fmt.Sprint(s.LastEventID)},
	}
	overview := table.New().
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})
	sections = append(sections, overview.String())

	return strings.Join(sections, "\n")
}
