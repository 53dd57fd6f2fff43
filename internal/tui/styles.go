package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorNavy   = lipgloss.Color("#1B2A49")
	ColorWhite  = lipgloss.Color("#FFFFFF")
	ColorGray   = lipgloss.Color("244")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("42")
	ColorOrange = lipgloss.Color("208")
	ColorRed    = lipgloss.Color("196")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	confirmStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorOrange).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Width(12)
)

// statusColor returns the accent used for a log status.
func statusColor(status string) lipgloss.Color {
	switch status {
	case "Success":
		return ColorGreen
	case "":
		return ColorGray
	default:
		return ColorRed
	}
}
