package console

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/faexperts/fawizard/internal/store"
)

// listCursor is the selection state shared by both tables.
type listCursor struct {
	cursor int
	n      int
}

func (c *listCursor) resize(n int) {
	c.n = n
	if c.cursor >= n {
		c.cursor = max(0, n-1)
	}
}

func (c listCursor) Update(msg tea.Msg) listCursor {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "j", "down":
			if c.cursor < c.n-1 {
				c.cursor++
			}
		case "k", "up":
			if c.cursor > 0 {
				c.cursor--
			}
		case "G":
			c.cursor = max(0, c.n-1)
		case "g":
			c.cursor = 0
		}
	}
	return c
}

func (c listCursor) prefix(i int) (string, lipgloss.Style) {
	if i == c.cursor {
		return selectedStyle.Render("> "), lipgloss.NewStyle().Bold(true)
	}
	return "  ", lipgloss.NewStyle()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "~"
	}
	return s
}

func fullName(p store.Profile) string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func renderProfiles(items []store.ProfileSummary, c listCursor) string {
	if len(items) == 0 {
		return dimmedStyle.Render("  No profiles")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %-32s %-22s %-7s %-11s %s\n",
		columnStyle.Render("EMAIL"),
		columnStyle.Render("NAME"),
		columnStyle.Render("ADMIN"),
		columnStyle.Render("SUBSCRIBED"),
		columnStyle.Render("SCHOOLS"),
	)
	for i, p := range items {
		cursor, style := c.prefix(i)
		fmt.Fprintf(&b, "%s%-32s %-22s %-7s %-11s %d\n",
			cursor,
			style.Render(truncate(p.Email, 32)),
			style.Render(truncate(fullName(p.Profile), 22)),
			flag(p.IsAdmin),
			flag(p.IsSubscribed),
			p.SchoolCount,
		)
	}
	return b.String()
}

func contactName(c *store.Contact) string {
	if c == nil {
		return "-"
	}
	return c.FullName
}

func renderSchools(items []store.School, c listCursor) string {
	if len(items) == 0 {
		return dimmedStyle.Render("  No schools registered")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %-32s %-16s %-20s %s\n",
		columnStyle.Render("SCHOOL"),
		columnStyle.Render("CITY"),
		columnStyle.Render("PRIMARY"),
		columnStyle.Render("SECONDARY"),
	)
	for i, s := range items {
		cursor, style := c.prefix(i)
		fmt.Fprintf(&b, "%s%-32s %-16s %-20s %s\n",
			cursor,
			style.Render(truncate(s.FullSchoolName, 32)),
			style.Render(truncate(s.City+", "+s.State, 16)),
			style.Render(truncate(contactName(s.PrimaryContact), 20)),
			style.Render(contactName(s.SecondaryContact)),
		)
	}
	return b.String()
}
