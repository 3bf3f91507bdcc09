package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	suggestBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1).
		Margin(1, 0)

	suggestionStyle = lipgloss.NewStyle().
		Foreground(ColorPass).
		Bold(true)
)

// RenderSuggestions draws a did-you-mean box for a near-miss lookup.
func RenderSuggestions(what string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s not found. Did you mean:\n", RenderBold(what))
	for _, c := range candidates {
		b.WriteString("  • " + suggestionStyle.Render(c) + "\n")
	}
	return suggestBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// MessageView is one message row as the renderer needs it.
type MessageView struct {
	ID       int64
	From     string
	To       string
	Subject  string
	Severity string
	TaskID   string
	SentAt   string
	Unread   bool
}

// RenderMessageList draws an inbox or search result listing, one line
// per message, unread ones bold.
func RenderMessageList(messages []MessageView) string {
	if len(messages) == 0 {
		return TableHintStyle.Render("No messages.")
	}
	dot := "●"
	if !ShouldUseEmoji() {
		dot = "*"
	}
	var b strings.Builder
	for _, m := range messages {
		marker := " "
		if m.Unread {
			marker = RenderAccent(dot)
		}
		line := fmt.Sprintf("%s #%-4d %s  %s → %s", marker, m.ID, RenderSeverity(pad(m.Severity, 5)), m.From, m.To)
		if m.TaskID != "" {
			line += TableHintStyle.Render("  (" + m.TaskID + ")")
		}
		subject := m.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		if m.Unread {
			subject = RenderBold(subject)
		}
		b.WriteString(line + "\n")
		b.WriteString("       " + subject + TableHintStyle.Render("  "+m.SentAt) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
