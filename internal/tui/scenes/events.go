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

// EventsScene displays recent file activity events.
type EventsScene struct {
	client     *client.Client
	events     []client.Event
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// eventsMsg carries updated events
type eventsMsg struct {
	events []client.Event
	err    string
}

// NewEventsScene creates a new events scene
func NewEventsScene(c *client.Client) *EventsScene {
	return &EventsScene{
		client:  c,
		loading: true,
		maxRows: 10,
	}
}

// Init fetches the initial data.
func (e *EventsScene) Init() tea.Cmd {
	return e.fetchEvents()
}

func (e *EventsScene) fetchEvents() tea.Cmd {
	return func() tea.Msg {
		events, err := e.client.GetEvents(100)
		if err != nil {
			return eventsMsg{err: err.Error()}
		}
		return eventsMsg{events: events}
	}
}

// TickCmd returns the poll command for this scene.
func (e *EventsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "events", Time: t}
	})
}

// Update handles messages for the events scene
func (e *EventsScene) Update(msg tea.Msg) (*EventsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		e.width = msg.Width
		e.height = msg.Height
		e.maxRows = max(5, e.height-12)
		return e, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if e.cursor > 0 {
				e.cursor--
				if e.cursor < e.offset {
					e.offset = e.cursor
				}
			}
		case "down", "j":
			if e.cursor < len(e.events)-1 {
				e.cursor++
				if e.cursor >= e.offset+e.maxRows {
					e.offset = e.cursor - e.maxRows + 1
				}
			}
		case "pgup":
			e.cursor = max(0, e.cursor-e.maxRows)
			e.offset = max(0, e.offset-e.maxRows)
		case "pgdown":
			e.cursor = min(len(e.events)-1, e.cursor+e.maxRows)
			e.offset = min(max(0, len(e.events)-e.maxRows), e.offset+e.maxRows)
		case "r":
			e.loading = true
			return e, e.fetchEvents()
		}
		return e, nil

	case eventsMsg:
		e.loading = false
		e.events = msg.events
		e.err = msg.err
		e.lastUpdate = time.Now()
		if e.cursor >= len(e.events) {
			e.cursor = max(0, len(e.events)-1)
		}
		return e, nil

	case TickMsg:
		if msg.Scene == "events" {
			return e, e.fetchEvents()
		}
		return e, nil
	}

	return e, nil
}

// View renders the events list
func (e *EventsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  File Activity Events"))
	b.WriteString("\n\n")

	if e.loading && len(e.events) == 0 {
		b.WriteString(styles.Muted.Render("  Loading events..."))
		return b.String()
	}

	if e.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", e.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(e.events) == 0 {
		b.WriteString(styles.Muted.Render("  No events found."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Events appear here once folders are watched or POST /api/events is used."))
		return b.String()
	}

	countText := fmt.Sprintf("  Showing %d events", len(e.events))
	b.WriteString(styles.Subtitle.Render(countText))
	if e.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-6s %-20s %-10s %-10s %s",
		"ID", "Timestamp", "Type", "Processed", "Target")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(e.offset+e.maxRows, len(e.events))
	for i, event := range e.events[e.offset:endIdx] {
		idx := e.offset + i
		b.WriteString(e.renderEventRow(event, idx == e.cursor))
		b.WriteString("\n")
	}

	if len(e.events) > e.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [r] refresh)",
			e.offset+1, endIdx, len(e.events))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !e.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", e.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (e *EventsScene) renderEventRow(event client.Event, selected bool) string {
	processed := "pending"
	if event.ProcessedFlag {
		processed = "done"
	}

	target := "-"
	if event.TargetFileID != nil {
		target = fmt.Sprintf("file:%d", *event.TargetFileID)
	} else if event.TargetFolderID != nil {
		target = fmt.Sprintf("folder:%d", *event.TargetFolderID)
	}

	row := fmt.Sprintf("  %-6d %-20s %s %-10s %s",
		event.ID,
		event.Timestamp.Format("01-02 15:04:05"),
		formatEventType(event.EventType),
		processed,
		target,
	)

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}
	return row
}

func formatEventType(eventType string) string {
	width := 10
	var style lipgloss.Style
	switch eventType {
	case "delete":
		style = styles.StatusError
	case "modify":
		style = styles.StatusWarning
	default:
		style = styles.StatusOK
	}
	return style.Render(fmt.Sprintf("%-*s", width, eventType))
}
