// Package ui provides a terminal dashboard for a running taskforge
// daemon. Uses Bubbletea to display queue status, tasks, and the
// orchestrator event feed.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/taskforge/internal/orchestrator"
	"github.com/marcus/taskforge/internal/stats"
	"github.com/marcus/taskforge/internal/tasks"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStatus Panel = iota
	PanelTasks
	PanelEvents
)

// TaskItem is one row in the task list.
type TaskItem struct {
	ID          string
	Type        tasks.Type
	Description string
	Status      tasks.Status
	Attempt     int
}

// eventLine is one rendered feed entry.
type eventLine struct {
	Time    time.Time
	Kind    orchestrator.EventType
	Message string
}

// EventMsg delivers an orchestrator event to the UI.
type EventMsg orchestrator.Event

// StatusMsg delivers a queue status snapshot.
type StatusMsg tasks.QueueStatus

// StatsMsg delivers an analytics snapshot.
type StatsMsg stats.Snapshot

// Model holds the TUI state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	queue     tasks.QueueStatus
	analytics stats.Snapshot

	taskRows     []TaskItem
	taskScroll   int
	selectedTask int

	events      []eventLine
	eventScroll int

	spinTick int

	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	TaskSelected lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusRunning: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		TaskSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent periodically to animate the spinner.
type tickMsg time.Time

// New creates a new TUI model.
func New() *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelStatus,
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.spinTick++
		return m, tickCmd()

	case EventMsg:
		m = m.applyEvent(orchestrator.Event(msg))
		return m, nil

	case StatusMsg:
		m.queue = tasks.QueueStatus(msg)
		return m, nil

	case StatsMsg:
		m.analytics = stats.Snapshot(msg)
		return m, nil
	}

	return m, nil
}

// applyEvent folds one orchestrator event into the task list and feed.
func (m Model) applyEvent(ev orchestrator.Event) Model {
	switch ev.Type {
	case orchestrator.EventTaskQueued:
		m.taskRows = append(m.taskRows, TaskItem{
			ID:          ev.TaskID,
			Type:        ev.TaskType,
			Description: ev.Message,
			Status:      tasks.StatusPending,
		})
	case orchestrator.EventTaskStarted:
		m.setTaskStatus(ev.TaskID, tasks.StatusActive, ev.Attempt)
	case orchestrator.EventTaskCompleted:
		m.setTaskStatus(ev.TaskID, tasks.StatusCompleted, ev.Attempt)
	case orchestrator.EventTaskFailed:
		m.setTaskStatus(ev.TaskID, tasks.StatusFailed, ev.Attempt)
	case orchestrator.EventTaskRetrying:
		m.setTaskStatus(ev.TaskID, tasks.StatusPending, ev.Attempt)
	case orchestrator.EventTaskCancelled:
		m.setTaskStatus(ev.TaskID, tasks.StatusCancelled, ev.Attempt)
	}

	m.events = append(m.events, eventLine{
		Time:    ev.Time,
		Kind:    ev.Type,
		Message: eventText(ev),
	})
	// Auto-scroll to bottom if already at the bottom.
	if m.eventScroll >= len(m.events)-2 {
		m.eventScroll = len(m.events) - 1
	}
	return m
}

func (m *Model) setTaskStatus(id string, status tasks.Status, attempt int) {
	for i := range m.taskRows {
		if m.taskRows[i].ID == id {
			m.taskRows[i].Status = status
			if attempt > 0 {
				m.taskRows[i].Attempt = attempt
			}
			return
		}
	}
}

// eventText builds the one-line feed text for an event.
func eventText(ev orchestrator.Event) string {
	short := ev.TaskID
	if len(short) > 8 {
		short = short[:8]
	}
	switch ev.Type {
	case orchestrator.EventGoalCompleted:
		return fmt.Sprintf("goal done: %s", ev.Message)
	case orchestrator.EventTaskFailed:
		return fmt.Sprintf("%s %s: %s", ev.TaskType, short, ev.Error)
	case orchestrator.EventTaskRetrying:
		return fmt.Sprintf("%s %s retrying (attempt %d)", ev.TaskType, short, ev.Attempt)
	default:
		return fmt.Sprintf("%s %s", ev.TaskType, short)
	}
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "home", "g":
		return m.handleHome(), nil

	case "end", "G":
		return m.handleEnd(), nil
	}

	return m, nil
}

func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask > 0 {
			m.selectedTask--
		}
	case PanelEvents:
		if m.eventScroll > 0 {
			m.eventScroll--
		}
	}
	return m
}

func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask < len(m.taskRows)-1 {
			m.selectedTask++
		}
	case PanelEvents:
		if m.eventScroll < len(m.events)-1 {
			m.eventScroll++
		}
	}
	return m
}

func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelTasks:
		m.selectedTask = 0
	case PanelEvents:
		m.eventScroll = 0
	}
	return m
}

func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelTasks:
		if len(m.taskRows) > 0 {
			m.selectedTask = len(m.taskRows) - 1
		}
	case PanelEvents:
		if len(m.events) > 0 {
			m.eventScroll = len(m.events) - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	statusPanel := m.renderStatusPanel()
	taskPanel := m.renderTaskPanel(topHeight - 2)
	eventPanel := m.renderEventPanel(m.width-2, bottomHeight-2)

	statusBorder := m.getBorder(PanelStatus).Width(leftWidth - 2).Height(topHeight - 2)
	taskBorder := m.getBorder(PanelTasks).Width(rightWidth - 2).Height(topHeight - 2)
	eventBorder := m.getBorder(PanelEvents).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		statusBorder.Render(statusPanel),
		taskBorder.Render(taskPanel),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		eventBorder.Render(eventPanel),
		m.renderHelpBar(),
	)
}

func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

// renderStatusPanel shows queue counts and aggregate analytics.
func (m Model) renderStatusPanel() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Taskforge"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Pending:   "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d", m.queue.Pending)))
	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render("Active:    "))
	b.WriteString(m.styles.StatusRunning.Render(fmt.Sprintf("%d", m.queue.Active)))
	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render("Completed: "))
	b.WriteString(m.styles.StatusOK.Render(fmt.Sprintf("%d", m.queue.Completed)))
	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render("Failed:    "))
	b.WriteString(m.styles.StatusError.Render(fmt.Sprintf("%d", m.queue.Failed)))
	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render("Cancelled: "))
	b.WriteString(m.styles.Muted.Render(fmt.Sprintf("%d", m.queue.Cancelled)))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Success rate: "))
	if m.analytics.RunCount > 0 {
		pct := m.analytics.SuccessRate * 100
		style := m.styles.StatusOK
		if pct < 50 {
			style = m.styles.StatusError
		} else if pct < 80 {
			style = m.styles.StatusWarn
		}
		b.WriteString(style.Render(fmt.Sprintf("%.0f%%", pct)))
	} else {
		b.WriteString(m.styles.Muted.Render("no runs yet"))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Avg execution: "))
	if m.analytics.RunCount > 0 {
		b.WriteString(m.styles.Value.Render(formatDuration(m.analytics.AvgExecution)))
	} else {
		b.WriteString(m.styles.Muted.Render("-"))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Total runs: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d", m.analytics.RunCount)))

	return b.String()
}

// renderTaskPanel renders the task list.
func (m Model) renderTaskPanel(height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Tasks"))
	b.WriteString("\n\n")

	if len(m.taskRows) == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks queued"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	if m.selectedTask < m.taskScroll {
		m.taskScroll = m.selectedTask
	} else if m.selectedTask >= m.taskScroll+visible {
		m.taskScroll = m.selectedTask - visible + 1
	}

	for i := m.taskScroll; i < len(m.taskRows) && i < m.taskScroll+visible; i++ {
		row := m.taskRows[i]

		var icon string
		var style lipgloss.Style
		switch row.Status {
		case tasks.StatusPending:
			icon = "o"
			style = m.styles.Muted
		case tasks.StatusActive:
			icon = m.spinner()
			style = m.styles.StatusRunning
		case tasks.StatusCompleted:
			icon = "*"
			style = m.styles.StatusOK
		case tasks.StatusFailed:
			icon = "x"
			style = m.styles.StatusError
		case tasks.StatusCancelled:
			icon = "-"
			style = m.styles.Muted
		}

		line := fmt.Sprintf(" %s %-20s %s", style.Render(icon), row.Type, row.Description)
		if row.Attempt > 1 {
			line += m.styles.Muted.Render(fmt.Sprintf(" (attempt %d)", row.Attempt))
		}

		if i == m.selectedTask && m.activePanel == PanelTasks {
			line = m.styles.TaskSelected.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.taskRows) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.taskScroll+1, len(m.taskRows))))
	}

	return b.String()
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.spinTick%len(frames)]
}

// renderEventPanel renders the orchestrator event feed.
func (m Model) renderEventPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Events"))
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(m.styles.Muted.Render("No events yet"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	start := m.eventScroll
	if start+visible > len(m.events) {
		start = len(m.events) - visible
		if start < 0 {
			start = 0
		}
	}

	for i := start; i < len(m.events) && i < start+visible; i++ {
		ev := m.events[i]

		var style lipgloss.Style
		switch ev.Kind {
		case orchestrator.EventTaskCompleted, orchestrator.EventGoalCompleted:
			style = m.styles.StatusOK
		case orchestrator.EventTaskFailed:
			style = m.styles.StatusError
		case orchestrator.EventTaskRetrying:
			style = m.styles.StatusWarn
		case orchestrator.EventTaskStarted:
			style = m.styles.StatusRunning
		default:
			style = m.styles.Muted
		}

		msg := ev.Message
		maxLen := width - 32
		if len(msg) > maxLen && maxLen > 3 {
			msg = msg[:maxLen-3] + "..."
		}

		b.WriteString(fmt.Sprintf("%s %s %s\n",
			m.styles.Muted.Render(ev.Time.Format("15:04:05")),
			style.Render(fmt.Sprintf("[%-14s]", ev.Kind)),
			msg,
		))
	}

	if len(m.events) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.eventScroll+1, len(m.events))))
	}

	return b.String()
}

func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

// Run starts the TUI and blocks until quit.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram starts the TUI in the background and returns the
// program so the daemon can push messages with p.Send.
func (m *Model) RunWithProgram() (*tea.Program, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p, nil
}
