// Package console implements `fawizard console`, a terminal admin view over
// profiles and schools.
package console

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/faexperts/fawizard/internal/store"
)

// Panel identifies which table is focused.
type Panel int

const (
	PanelProfiles Panel = iota
	PanelSchools
)

var keys = struct {
	quit, tab, admin, refresh, help key.Binding
}{
	quit:    key.NewBinding(key.WithKeys("ctrl+c", "q")),
	tab:     key.NewBinding(key.WithKeys("tab")),
	admin:   key.NewBinding(key.WithKeys("a")),
	refresh: key.NewBinding(key.WithKeys("r")),
	help:    key.NewBinding(key.WithKeys("?")),
}

// Model is the root console model.
type Model struct {
	ctx   context.Context
	store store.Store

	profiles      []store.ProfileSummary
	schools       []store.School
	profileCursor listCursor
	schoolCursor  listCursor
	activePanel   Panel
	status        string
	err           error
	showHelp      bool
	width         int
	quitting      bool
}

// NewModel creates a console model reading from s.
func NewModel(ctx context.Context, s store.Store) Model {
	return Model{ctx: ctx, store: s, width: 100}
}

// dataMsg carries a fresh snapshot of the store.
type dataMsg struct {
	profiles []store.ProfileSummary
	schools  []store.School
	err      error
}

// adminToggledMsg reports the outcome of an admin flag change.
type adminToggledMsg struct {
	email   string
	isAdmin bool
	err     error
}

func (m Model) load() tea.Msg {
	profiles, err := m.store.ListProfiles(m.ctx)
	if err != nil {
		return dataMsg{err: fmt.Errorf("list profiles: %w", err)}
	}
	schools, err := m.store.ListSchools(m.ctx)
	if err != nil {
		return dataMsg{err: fmt.Errorf("list schools: %w", err)}
	}
	return dataMsg{profiles: profiles, schools: schools}
}

func (m Model) toggleAdmin(p store.ProfileSummary) tea.Cmd {
	return func() tea.Msg {
		err := m.store.SetProfileAdmin(m.ctx, p.ID, !p.IsAdmin)
		return adminToggledMsg{email: p.Email, isAdmin: !p.IsAdmin, err: err}
	}
}

func (m Model) Init() tea.Cmd {
	return m.load
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.profiles = msg.profiles
			m.schools = msg.schools
			m.profileCursor.resize(len(m.profiles))
			m.schoolCursor.resize(len(m.schools))
		}
		return m, nil

	case adminToggledMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("update %s: %w", msg.email, msg.err)
			return m, nil
		}
		m.err = nil
		if msg.isAdmin {
			m.status = msg.email + " is now an admin"
		} else {
			m.status = msg.email + " is no longer an admin"
		}
		return m, m.load

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, keys.tab):
			if m.activePanel == PanelProfiles {
				m.activePanel = PanelSchools
			} else {
				m.activePanel = PanelProfiles
			}
			return m, nil
		case key.Matches(msg, keys.refresh):
			m.status = ""
			return m, m.load
		case key.Matches(msg, keys.admin):
			if m.activePanel != PanelProfiles || len(m.profiles) == 0 {
				return m, nil
			}
			return m, m.toggleAdmin(m.profiles[m.profileCursor.cursor])
		}

		switch m.activePanel {
		case PanelProfiles:
			m.profileCursor = m.profileCursor.Update(msg)
		case PanelSchools:
			m.schoolCursor = m.schoolCursor.Update(msg)
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return helpView()
	}

	header := titleStyle.Render("FA Wizard console") + "  " +
		descriptionStyle.Render(fmt.Sprintf("%d profiles, %d schools", len(m.profiles), len(m.schools)))

	profStyle := panelStyle(m.width, m.activePanel == PanelProfiles)
	schoolStyle := panelStyle(m.width, m.activePanel == PanelSchools)

	var footer string
	switch {
	case m.err != nil:
		footer = errorStyle.Render("  " + m.err.Error())
	case m.status != "":
		footer = successStyle.Render("  " + m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		profStyle.Render(subtitleStyle.Render(" Profiles")+"\n"+renderProfiles(m.profiles, m.profileCursor)),
		schoolStyle.Render(subtitleStyle.Render(" Schools")+"\n"+renderSchools(m.schools, m.schoolCursor)),
		footer,
		helpBar(),
	)
}

func panelStyle(width int, focused bool) lipgloss.Style {
	border := colorMuted
	if focused {
		border = colorPrimary
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Width(max(width-2, 20))
}

// Err returns the last load or update error.
func (m Model) Err() error { return m.err }
