package console

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#0F766E") // teal
	colorSecondary = lipgloss.Color("#0EA5E9") // sky
	colorAccent    = lipgloss.Color("#F59E0B") // amber

	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
	colorText    = lipgloss.Color("#E5E7EB")
	colorSubtle  = lipgloss.Color("#9CA3AF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSecondary)

	descriptionStyle = lipgloss.NewStyle().Foreground(colorSubtle)
	selectedStyle    = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	dimmedStyle      = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle     = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle       = lipgloss.NewStyle().Foreground(colorError)
	helpStyle        = lipgloss.NewStyle().Foreground(colorMuted)
	columnStyle      = lipgloss.NewStyle().Foreground(colorSubtle).Bold(true)
)

// flag renders a yes/no cell.
func flag(on bool) string {
	if on {
		return successStyle.Render("yes")
	}
	return dimmedStyle.Render("no")
}
