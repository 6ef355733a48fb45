// Package scenes provides TUI scenes for filewarden
package scenes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"filewarden/internal/tui/client"
	"filewarden/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TickMsg is sent on each poll tick. Exported for use by the parent model.
type TickMsg struct {
	Scene string
	Time  time.Time
}

// DashboardScene displays system health and pipeline counters.
type DashboardScene struct {
	client     *client.Client
	stats      *client.Stats
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// statsMsg carries updated stats
type statsMsg struct {
	stats *client.Stats
	err   error
}

// NewDashboardScene creates a new dashboard scene
func NewDashboardScene(c *client.Client) *DashboardScene {
	return &DashboardScene{
		client:  c,
		loading: true,
		stats:   &client.Stats{},
	}
}

// Init fetches the initial data.
func (d *DashboardScene) Init() tea.Cmd {
	return d.fetchStats()
}

func (d *DashboardScene) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := d.client.GetStats()
		return statsMsg{stats: stats, err: err}
	}
}

// TickCmd returns the poll command. The parent model schedules it only
// while this scene is active.
func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

// Update handles messages for the dashboard
func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil

	case statsMsg:
		d.loading = false
		d.stats = msg.stats
		d.err = msg.err
		d.lastUpdate = time.Now()
		return d, nil

	case TickMsg:
		if msg.Scene == "dashboard" {
			return d, d.fetchStats()
		}
		return d, nil
	}

	return d, nil
}

// View renders the dashboard
func (d *DashboardScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Filewarden Dashboard"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}

	if d.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %v", d.err)))
		b.WriteString("\n")
	}

	var statusText string
	if d.stats.Healthy {
		statusText = styles.StatusOK.Render("● HEALTHY")
	} else {
		statusText = styles.StatusError.Render("● UNHEALTHY")
	}
	b.WriteString(fmt.Sprintf("  Status: %s  %s\n\n",
		statusText, styles.Muted.Render(d.stats.StatusReason)))

	cards := []string{
		d.renderMetricCard("Unprocessed", fmt.Sprintf("%d", d.stats.UnprocessedEvents)),
		d.renderMetricCard("Rules", fmt.Sprintf("%d", d.stats.Rules.TotalRules)),
		d.renderMetricCard("Adaptive", fmt.Sprintf("%d", d.stats.Rules.AdaptiveRules)),
		d.renderMetricCard("Pending batch", fmt.Sprintf("%d", d.dispatchCount("pending_batch"))),
		d.renderMetricCard("Rate limited", fmt.Sprintf("%d", d.stats.RateLimited)),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  Audit log volume"))
	b.WriteString("\n")
	b.WriteString(d.renderLogCounts())
	b.WriteString("\n")

	if !d.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", d.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (d *DashboardScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(18).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)

	return card.Render(content)
}

// dispatchCount reads a numeric counter from the dispatch stats block.
// JSON decoding turns numbers into float64.
func (d *DashboardScene) dispatchCount(key string) int {
	if d.stats.Dispatch == nil {
		return 0
	}
	switch v := d.stats.Dispatch[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (d *DashboardScene) renderLogCounts() string {
	if len(d.stats.LogsByType) == 0 {
		return styles.Muted.Render("  No audit logs yet.")
	}

	types := make([]string, 0, len(d.stats.LogsByType))
	for t := range d.stats.LogsByType {
		types = append(types, t)
	}
	sort.Strings(types)

	var rows []string
	for _, t := range types {
		rows = append(rows, fmt.Sprintf("  %-16s %d", t, d.stats.LogsByType[t]))
	}
	return strings.Join(rows, "\n")
}
