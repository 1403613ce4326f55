// Package render turns engine events into terminal output: styled text for
// interactive use and JSON lines for headless runs.
package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme defines the color palette.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the gruvbox palette.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b8bb26"),
		Secondary: lipgloss.Color("#83a598"),
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"),
		Warning:   lipgloss.Color("#fabd2f"),
		Muted:     lipgloss.Color("#928374"),
	}
}

// Styles are the lipgloss styles used by the interactive renderer.
type Styles struct {
	Tool    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Prompt  lipgloss.Style
}

// NewStyles builds styles bound to a renderer for w with the given color
// profile. termenv.Ascii disables all color.
func NewStyles(w io.Writer, profile termenv.Profile, th Theme) Styles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)
	return Styles{
		Tool:    r.NewStyle().Foreground(th.Secondary).Bold(true),
		Success: r.NewStyle().Foreground(th.Success),
		Error:   r.NewStyle().Foreground(th.Error).Bold(true),
		Warning: r.NewStyle().Foreground(th.Warning),
		Muted:   r.NewStyle().Foreground(th.Muted),
		Prompt:  r.NewStyle().Foreground(th.Primary).Bold(true),
	}
}
