package console

import "github.com/charmbracelet/lipgloss"

func helpBar() string {
	return helpStyle.Render("  q quit  Tab switch  j/k navigate  a toggle admin  r refresh  ? help")
}

func helpView() string {
	binds := []struct {
		key  string
		desc string
	}{
		{"q / Ctrl+C", "Quit"},
		{"Tab", "Switch between Profiles and Schools"},
		{"j / Down", "Move down"},
		{"k / Up", "Move up"},
		{"g / G", "Jump to top / bottom"},
		{"a", "Grant or revoke admin on the selected profile"},
		{"r", "Reload from the database"},
		{"?", "Toggle this help"},
	}

	keyStyle := lipgloss.NewStyle().Foreground(colorAccent).Bold(true).Width(14)
	descStyle := lipgloss.NewStyle().Foreground(colorText)

	s := titleStyle.Render("Keyboard Shortcuts") + "\n\n"
	for _, b := range binds {
		s += "  " + keyStyle.Render(b.key) + descStyle.Render(b.desc) + "\n"
	}
	s += "\n" + helpStyle.Render("  Press ? to close")
	return lipgloss.NewStyle().Padding(1, 2).Render(s)
}
