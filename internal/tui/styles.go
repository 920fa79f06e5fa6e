package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/knaw-huc/editem/internal/reconciler"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	projectStyle = lipgloss.NewStyle().Foreground(cyanColor)

	lineStyles = map[reconciler.Style]lipgloss.Style{
		reconciler.StylePlain:   lipgloss.NewStyle(),
		reconciler.StyleGood:    lipgloss.NewStyle().Foreground(successColor),
		reconciler.StyleWarning: lipgloss.NewStyle().Foreground(warningColor),
		reconciler.StyleError:   lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
)

// Render paints text in the color of a sink style. It doubles as the
// reconciler.Styler of line-oriented output.
func Render(style reconciler.Style, text string) string {
	s, ok := lineStyles[style]
	if !ok {
		return text
	}
	return s.Render(text)
}

var stateGlyphs = map[string]string{
	"idle":           "○",
	"start-issued":   "◐",
	"running":        "◑",
	"kill-issued":    "◑",
	"killed":         "✗",
	"succeeded":      "●",
	"failed":         "✗",
	"interrupted":    "◌",
	"start-rejected": "!",
	"kill-rejected":  "!",
}

func stateGlyph(state string) string {
	if g, ok := stateGlyphs[state]; ok {
		return g
	}
	return "?"
}
