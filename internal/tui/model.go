// Package tui renders a live view of a run: one line per task with its
// current state, plus overall progress, driven by the event bus.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/google/uuid"

	"github.com/mbrandt/autocoder/internal/events"
)

type taskRow struct {
	id          uuid.UUID
	kind        string
	description string
	state       string
	duration    time.Duration
	err         string
}

// Model is the root Bubble Tea model for the watch view.
type Model struct {
	spinner  spinner.Model
	eventSub <-chan events.Event

	rows  []taskRow
	index map[uuid.UUID]int

	progress events.RunProgressEvent
	finished *events.RunFinishedEvent

	width    int
	height   int
	quitting bool
}

// New creates a watch model subscribed to all topics on bus.
func New(bus *events.Bus) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		spinner:  sp,
		eventSub: bus.SubscribeAll(256),
		index:    make(map[uuid.UUID]int),
	}
}

// Init starts the spinner and the event wait loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.eventSub))
}

// waitForEvent returns a command that delivers the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.TaskCreatedEvent:
		m.upsert(msg.ID, msg.Kind, msg.Description, "pending", 0, "")
		return m, waitForEvent(m.eventSub)

	case events.TaskStartedEvent:
		m.upsert(msg.ID, msg.Kind, msg.Description, "running", 0, "")
		return m, waitForEvent(m.eventSub)

	case events.TaskCompletedEvent:
		m.upsert(msg.ID, msg.Kind, "", "completed", msg.Duration, "")
		return m, waitForEvent(m.eventSub)

	case events.TaskFailedEvent:
		errText := ""
		if msg.Err != nil {
			errText = msg.Err.Error()
		}
		m.upsert(msg.ID, msg.Kind, "", "failed", msg.Duration, errText)
		return m, waitForEvent(m.eventSub)

	case events.RunProgressEvent:
		m.progress = msg
		return m, waitForEvent(m.eventSub)

	case events.RunFinishedEvent:
		finished := msg
		m.finished = &finished
		return m, waitForEvent(m.eventSub)
	}

	return m, nil
}

// upsert updates the row for a task, creating it on first sight. Empty
// kind or description leave the existing values in place.
func (m *Model) upsert(id uuid.UUID, kind, description, state string, duration time.Duration, errText string) {
	i, ok := m.index[id]
	if !ok {
		m.index[id] = len(m.rows)
		m.rows = append(m.rows, taskRow{id: id})
		i = len(m.rows) - 1
	}
	row := &m.rows[i]
	if kind != "" {
		row.kind = kind
	}
	if description != "" {
		row.description = description
	}
	row.state = state
	if duration > 0 {
		row.duration = duration
	}
	row.err = errText
}

// View renders the watch screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(styleTitle.Render("autocoder"))
	if m.finished == nil {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	for _, row := range m.rows {
		marker := stateStyle(row.state).Render(fmt.Sprintf("%-9s", row.state))
		line := fmt.Sprintf("  %s %-12s %s", marker, row.kind, row.description)
		if row.duration > 0 {
			line += fmt.Sprintf(" (%s)", row.duration.Round(time.Millisecond))
		}
		b.WriteString(line + "\n")
		if row.err != "" {
			b.WriteString(styleError.Render("            "+row.err) + "\n")
		}
	}

	b.WriteString("\n")
	if m.finished != nil {
		summary := fmt.Sprintf("run finished: %d completed, %d failed, %d blocked",
			m.finished.Completed, m.finished.Failed, m.finished.Blocked)
		if m.finished.Stalled {
			summary += " (stalled)"
		}
		b.WriteString(styleTitle.Render(summary) + "\n")
	} else if m.progress.Total > 0 {
		b.WriteString(fmt.Sprintf(" %d/%d completed, %d running, %d failed\n",
			m.progress.Completed, m.progress.Total, m.progress.Running, m.progress.Failed))
	}

	b.WriteString(styleHelp.Render(" q: quit"))
	b.WriteString("\n")
	return b.String()
}
