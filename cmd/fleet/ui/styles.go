// Package ui provides the terminal styling for the fleet CLI, with
// light/dark mode support detected from the environment.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Light Mode Colors (Default)
	LightBackground = lipgloss.Color("#f5f6f7") // hsl(210, 8%, 96%)
	LightForeground = lipgloss.Color("#1b2733") // Slate - hsl(210, 30%, 15%)
	LightPrimary    = lipgloss.Color("#0f4c81") // Flight Blue
	LightAccent     = lipgloss.Color("#e8833a") // Signal Orange
	LightMuted      = lipgloss.Color("#8a949e") // hsl(210, 9%, 58%)
	LightBorder     = lipgloss.Color("#d8dde2") // hsl(210, 15%, 87%)
	LightCard       = lipgloss.Color("#ffffff") // White

	// Dark Mode Colors
	DarkBackground = lipgloss.Color("#10161d") // hsl(210, 29%, 9%)
	DarkForeground = lipgloss.Color("#e8ecf0") // hsl(210, 21%, 93%)
	DarkPrimary    = lipgloss.Color("#5da9e9") // Flight Blue (lifted)
	DarkAccent     = lipgloss.Color("#f09a57") // Signal Orange (lifted)
	DarkMuted      = lipgloss.Color("#5d6873") // Muted dark
	DarkBorder     = lipgloss.Color("#2b3744") // Border dark
	DarkCard       = lipgloss.Color("#18222c") // Card dark

	// Semantic Colors (same in both modes)
	Destructive = lipgloss.Color("#e05252") // Red
	Success     = lipgloss.Color("#4caf74") // Green
	Warning     = lipgloss.Color("#e6b422") // Amber
	Info        = lipgloss.Color("#4a9edb") // Blue
)

// Theme holds the current color scheme
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	Card       lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme
func LightTheme() Theme {
	return Theme{
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
		Card:       LightCard,
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme
func DarkTheme() Theme {
	return Theme{
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		Card:       DarkCard,
		IsDark:     true,
	}
}

// DetectTheme auto-detects the terminal background, defaulting to dark.
// FLEET_LIGHT_MODE=1 forces the light palette.
func DetectTheme() Theme {
	if os.Getenv("FLEET_LIGHT_MODE") == "1" {
		return LightTheme()
	}

	// COLORFGBG is usually "foreground;background"; ANSI indices 0-6 and 8
	// are the common dark backgrounds, 7 and 9-15 the light ones.
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if bgIdx == 7 || (bgIdx >= 9 && bgIdx <= 15) {
					return LightTheme()
				}
			}
		}
	}

	return DarkTheme()
}

// Styles holds the styled components used by the CLI output.
type Styles struct {
	Theme Theme

	// Layout
	Header lipgloss.Style
	Footer lipgloss.Style

	// Text
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	// Components
	Badge   lipgloss.Style
	Divider lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Subtitle: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(Info),

		Badge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles with the auto-detected theme
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// RenderDivider returns a horizontal divider of the given width
func (s Styles) RenderDivider(width int) string {
	return s.Divider.Render(strings.Repeat("─", width))
}

// StatusStyle picks the semantic style for a lifecycle state string. States
// from the sortie, mission, and pilot machines all route through here.
func (s Styles) StatusStyle(state string) lipgloss.Style {
	switch state {
	case "active", "completed", "closed":
		return s.Success
	case "in_progress":
		return s.Info
	case "blocked":
		return s.Error
	case "pending", "open":
		return s.Warning
	default:
		return s.Muted
	}
}
