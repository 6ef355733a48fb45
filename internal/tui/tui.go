// Package tui provides a terminal user interface for filewarden
package tui

import (
	"fmt"
	"strings"

	"filewarden/internal/tui/client"
	"filewarden/internal/tui/scenes"
	"filewarden/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view
type Scene int

const (
	SceneDashboard Scene = iota
	SceneEvents
	SceneRules
)

// Model is the main TUI model
type Model struct {
	client *client.Client

	scene Scene

	// Scene models. Only the active one receives ticks.
	dashboard *scenes.DashboardScene
	events    *scenes.EventsScene
	rules     *scenes.RulesScene

	width  int
	height int

	quitting bool
}

// New creates a new TUI model over an API client.
func New(c *client.Client) *Model {
	return &Model{
		client:    c,
		scene:     SceneDashboard,
		dashboard: scenes.NewDashboardScene(c),
		events:    scenes.NewEventsScene(c),
		rules:     scenes.NewRulesScene(c),
	}
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.activeTickCmd(),
	)
}

// activeTickCmd returns the tick command for the active scene only.
// Inactive scenes must not poll the backend.
func (m *Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneDashboard:
		return m.dashboard.TickCmd()
	case SceneEvents:
		return m.events.TickCmd()
	case SceneRules:
		return m.rules.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			if m.scene != SceneDashboard {
				m.scene = SceneDashboard
				cmds = append(cmds, m.dashboard.Init(), m.dashboard.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneEvents {
				m.scene = SceneEvents
				cmds = append(cmds, m.events.Init(), m.events.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "3":
			if m.scene != SceneRules {
				m.scene = SceneRules
				cmds = append(cmds, m.rules.Init(), m.rules.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			m.scene = (m.scene + 1) % 3
			cmds = append(cmds, m.activeTickCmd())
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard, _ = m.dashboard.Update(msg)
		m.events, _ = m.events.Update(msg)
		m.rules, _ = m.rules.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Only the active scene ticks. Forward and reschedule.
		var cmd tea.Cmd
		switch m.scene {
		case SceneDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.dashboard.TickCmd())
		case SceneEvents:
			m.events, cmd = m.events.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.events.TickCmd())
		case SceneRules:
			m.rules, cmd = m.rules.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.rules.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	// Forward other messages to the active scene only
	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneEvents:
		m.events, cmd = m.events.Update(msg)
	case SceneRules:
		m.rules, cmd = m.rules.Update(msg)
	}

	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current view
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneEvents:
		b.WriteString(m.events.View())
	case SceneRules:
		b.WriteString(m.rules.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Dashboard", "1", SceneDashboard},
		{"Events", "2", SceneEvents},
		{"Rules", "3", SceneRules},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-3] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [q] Quit "
	return styles.Help.Render(help)
}

// Run starts the TUI application
func Run(baseURL, username, password string) error {
	c := client.NewClient(baseURL, "")
	if username != "" {
		if err := c.Login(username, password); err != nil {
			return err
		}
	}

	m := New(c)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
