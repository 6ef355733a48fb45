package scenes

import (
	"fmt"
	"strings"
	"time"

	"filewarden/internal/tui/client"
	"filewarden/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RulesScene displays the active rule set.
type RulesScene struct {
	client     *client.Client
	rules      []client.Rule
	err        string
	width      int
	height     int
	cursor     int
	loading    bool
	lastUpdate time.Time
}

// rulesMsg carries the updated rule set
type rulesMsg struct {
	rules []client.Rule
	err   string
}

// NewRulesScene creates a new rules scene
func NewRulesScene(c *client.Client) *RulesScene {
	return &RulesScene{
		client:  c,
		loading: true,
	}
}

// Init fetches the initial data.
func (s *RulesScene) Init() tea.Cmd {
	return s.fetchRules()
}

func (s *RulesScene) fetchRules() tea.Cmd {
	return func() tea.Msg {
		ruleSet, err := s.client.GetRules()
		if err != nil {
			return rulesMsg{err: err.Error()}
		}
		return rulesMsg{rules: ruleSet}
	}
}

// TickCmd returns the poll command for this scene. Rules change rarely,
// so the interval is longer than the other scenes.
func (s *RulesScene) TickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "rules", Time: t}
	})
}

// Update handles messages for the rules scene
func (s *RulesScene) Update(msg tea.Msg) (*RulesScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		return s, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if s.cursor > 0 {
				s.cursor--
			}
		case "down", "j":
			if s.cursor < len(s.rules)-1 {
				s.cursor++
			}
		case "r":
			s.loading = true
			return s, s.fetchRules()
		}
		return s, nil

	case rulesMsg:
		s.loading = false
		s.rules = msg.rules
		s.err = msg.err
		s.lastUpdate = time.Now()
		if s.cursor >= len(s.rules) {
			s.cursor = max(0, len(s.rules)-1)
		}
		return s, nil

	case TickMsg:
		if msg.Scene == "rules" {
			return s, s.fetchRules()
		}
		return s, nil
	}

	return s, nil
}

// View renders the rule set
func (s *RulesScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Scoring Rules"))
	b.WriteString("\n\n")

	if s.loading && len(s.rules) == 0 {
		b.WriteString(styles.Muted.Render("  Loading rules..."))
		return b.String()
	}

	if s.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", s.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(s.rules) == 0 {
		b.WriteString(styles.Muted.Render("  No rules configured."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Seed a default set with: filewarden-rules seed"))
		return b.String()
	}

	header := fmt.Sprintf("  %-6s %-34s %-10s %-9s %-12s %s",
		"ID", "Name", "Severity", "Adaptive", "Updated", "Action")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	for i, rule := range s.rules {
		b.WriteString(s.renderRuleRow(rule, i == s.cursor))
		b.WriteString("\n")
	}

	b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	if !s.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", s.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (s *RulesScene) renderRuleRow(rule client.Rule, selected bool) string {
	adaptive := "no"
	if rule.AdaptiveFlag {
		adaptive = "yes"
	}

	row := fmt.Sprintf("  %-6d %-34s %s %-9s %-12s %s",
		rule.ID,
		truncate(rule.Name, 34),
		formatSeverity(rule.SeverityLevel),
		adaptive,
		rule.LastUpdated.Format("01-02 15:04"),
		truncate(rule.ActionType, 40),
	)

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}
	return row
}

func formatSeverity(severity string) string {
	width := 10
	var style lipgloss.Style
	switch severity {
	case "Critical", "High":
		style = styles.StatusError
	case "Medium":
		style = styles.StatusWarning
	case "Low":
		style = styles.StatusOK
	default:
		style = styles.Muted
	}
	return style.Render(fmt.Sprintf("%-*s", width, severity))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
