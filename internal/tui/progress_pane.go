package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/scheduler"
)

// ProgressPaneModel shows graph-wide counts and the run state.
type ProgressPaneModel struct {
	progress scheduler.Progress
	running  string // active run mode, empty when idle
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel starts from the graph's current counts.
func NewProgressPaneModel(p scheduler.Progress) ProgressPaneModel {
	return ProgressPaneModel{progress: p}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	if msg, ok := msg.(events.GraphProgressEvent); ok {
		m.progress = scheduler.Progress{
			Total:     msg.Total,
			Pending:   msg.Pending,
			Running:   msg.Running,
			Paused:    msg.Paused,
			Completed: msg.Completed,
			Failed:    msg.Failed,
			Stopped:   msg.Stopped,
		}
	}
	return m, nil
}

// SetRunning records the mode of an active run ("serial", "parallel") or "".
func (m *ProgressPaneModel) SetRunning(mode string) {
	m.running = mode
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	p := m.progress

	var b strings.Builder
	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(p.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(p.Running)))
	fmt.Fprintf(&b, "Paused:    %s\n", StyleStatusPaused.Render(fmt.Sprint(p.Paused)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(p.Failed)))
	fmt.Fprintf(&b, "Stopped:   %s\n", StyleStatusStopped.Render(fmt.Sprint(p.Stopped)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(p.Pending)))
	b.WriteString("\n")

	if p.Total > 0 {
		barWidth := max(0, min(m.width-16, 40))
		completedWidth := p.Completed * barWidth / p.Total
		failedWidth := (p.Failed + p.Stopped) * barWidth / p.Total
		runningWidth := (p.Running + p.Paused) * barWidth / p.Total
		pendingWidth := max(0, barWidth-completedWidth-failedWidth-runningWidth)

		bar := StyleStatusComplete.Render(strings.Repeat("=", completedWidth))
		bar += StyleStatusFailed.Render(strings.Repeat("!", failedWidth))
		bar += StyleStatusRunning.Render(strings.Repeat("-", runningWidth))
		bar += StyleStatusPending.Render(strings.Repeat(".", pendingWidth))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, p.Completed, p.Total)
	}
	if m.running != "" {
		b.WriteString(StyleStatusRunning.Render("run all: " + m.running))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
