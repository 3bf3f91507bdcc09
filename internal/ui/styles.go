package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette. Adaptive colors keep dark and light terminals readable:
// accent for identifiers and commands, pass/warn/error for outcomes,
// muted for chrome.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#00875F", Dark: "#5FD7A7"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD75F"}
	ColorError  = lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#FF5F5F"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Init applies the color decision to the global lipgloss renderer.
// Call once at startup after flags are known; noColor comes from
// --no-color or configuration, the rest from terminal conventions.
func Init(noColor bool) {
	if noColor || !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderError(s string) string  { return errorStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderStatus colors a task status by what it means for the caller:
// ready is actionable, done is awaiting verification, verified is
// settled, deleted is history.
func RenderStatus(status string) string {
	switch status {
	case "ready":
		return accentStyle.Render(status)
	case "done":
		return warnStyle.Render(status)
	case "verified":
		return passStyle.Render(status)
	case "deleted":
		return mutedStyle.Render(status)
	default:
		return status
	}
}

// RenderSeverity colors a message severity.
func RenderSeverity(severity string) string {
	switch severity {
	case "warning":
		return warnStyle.Render(severity)
	case "critical":
		return errorStyle.Render(severity)
	default:
		return mutedStyle.Render(severity)
	}
}
