package display

import "github.com/charmbracelet/lipgloss"

var (
	SuccessColor = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	ActiveColor  = lipgloss.Color("#60A5FA") // Blue
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	AccentColor  = lipgloss.Color("#A78BFA") // Purple
	BorderColor  = lipgloss.Color("#6B7280")

	Success = lipgloss.NewStyle().Foreground(SuccessColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Active  = lipgloss.NewStyle().Foreground(ActiveColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)

	Heading = lipgloss.NewStyle().
		Bold(true).
		Foreground(AccentColor)

	BoardBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)
)

// StatusStyle returns the style used for a phase or run status.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "running":
		return Active
	case "completed":
		return Success.Bold(true)
	case "failed", "timeout":
		return Error.Bold(true)
	case "skipped":
		return Muted
	default:
		return Muted
	}
}

// StatusEmoji returns the emoji prefix printed for a status.
func StatusEmoji(status string) string {
	switch status {
	case "running":
		return "🔄"
	case "completed":
		return "✅"
	case "failed":
		return "❌"
	case "timeout":
		return "⏱️"
	case "skipped":
		return "⏭️"
	default:
		return "⏳"
	}
}
