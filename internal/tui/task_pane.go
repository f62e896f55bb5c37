package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/scheduler"
)

const listWidth = 30

// TaskPaneModel is the task list with the selected task's output.
type TaskPaneModel struct {
	graph       *scheduler.Graph
	tasks       []*scheduler.Task
	rows        []scheduler.Snapshot
	selectedIdx int
	offset      int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a pane over every task of g in canonical order.
func NewTaskPaneModel(g *scheduler.Graph) TaskPaneModel {
	m := TaskPaneModel{
		graph:    g,
		tasks:    g.Tasks(),
		viewport: viewport.New(0, 0),
	}
	m.Refresh()
	return m
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			m.Select(m.selectedIdx + 1)
		case KeyK, KeyUp:
			m.Select(m.selectedIdx - 1)
		case KeyTop:
			m.Select(0)
		case KeyBottom:
			m.Select(len(m.tasks) - 1)
		case KeyNextEpisode:
			m.jumpEpisode(1)
		case KeyPrevEpisode:
			m.jumpEpisode(-1)
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskOutputEvent:
		if m.selectedID() == msg.ID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.Event:
		m.Refresh()

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// Refresh re-reads every task's state.
func (m *TaskPaneModel) Refresh() {
	m.rows = make([]scheduler.Snapshot, len(m.tasks))
	for i, t := range m.tasks {
		m.rows[i] = t.Snapshot()
	}
	m.updateViewportContent()
}

// Selected returns the task under the cursor, nil for an empty graph.
func (m TaskPaneModel) Selected() *scheduler.Task {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx]
	}
	return nil
}

func (m TaskPaneModel) selectedID() string {
	if t := m.Selected(); t != nil {
		return t.Key().String()
	}
	return ""
}

// Select moves the cursor to idx, clamped to the list.
func (m *TaskPaneModel) Select(idx int) {
	if len(m.tasks) == 0 {
		return
	}
	idx = max(0, min(idx, len(m.tasks)-1))
	if idx == m.selectedIdx {
		return
	}
	m.selectedIdx = idx
	m.scrollList()
	m.updateViewportContent()
}

// jumpEpisode moves to the first task of the next or previous episode.
func (m *TaskPaneModel) jumpEpisode(dir int) {
	t := m.Selected()
	if t == nil {
		return
	}
	eps := m.graph.Episodes()
	for i, ep := range eps {
		if ep != t.Episode() {
			continue
		}
		j := i + dir
		if j < 0 || j >= len(eps) {
			return
		}
		for k, other := range m.tasks {
			if other.Episode() == eps[j] {
				m.Select(k)
				return
			}
		}
	}
}

func (m *TaskPaneModel) visibleRows() int {
	return max(1, m.height-6)
}

func (m *TaskPaneModel) scrollList() {
	rows := m.visibleRows()
	if m.selectedIdx < m.offset {
		m.offset = m.selectedIdx
	}
	if m.selectedIdx >= m.offset+rows {
		m.offset = m.selectedIdx - rows + 1
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.renderOutputHeader()+"\n"+m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(StyleStatusPending.Render("No episodes"))
	}
	end := min(len(m.rows), m.offset+m.visibleRows())
	for i := m.offset; i < end; i++ {
		s := m.rows[i]
		name := s.Key.String()
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(s.Display), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

func (m TaskPaneModel) renderOutputHeader() string {
	if m.selectedIdx >= len(m.rows) {
		return ""
	}
	s := m.rows[m.selectedIdx]
	header := StyleTitle.Render(s.Key.String()) + " " + s.Display
	switch {
	case s.Status == scheduler.TaskPending:
		if unmet := m.graph.Unmet(m.tasks[m.selectedIdx]); len(unmet) > 0 {
			header += StyleStatusPending.Render(fmt.Sprintf("  waiting on %v", unmet))
		}
	case s.Status == scheduler.TaskRunning:
		header += StyleStatusPending.Render(fmt.Sprintf("  pid %d, %s", s.Pid, time.Since(s.StartTime).Round(time.Second)))
	case s.Status.Terminal() && !s.EndTime.IsZero():
		header += StyleStatusPending.Render(fmt.Sprintf("  exit %d, %s", s.ExitCode, s.EndTime.Sub(s.StartTime).Round(time.Second)))
	}
	return header
}

// updateViewportContent shows the selected task's command and output.
func (m *TaskPaneModel) updateViewportContent() {
	t := m.Selected()
	if t == nil {
		m.viewport.SetContent("No tasks.")
		return
	}

	var b strings.Builder
	if cmd := t.Command(); cmd != "" {
		b.WriteString(StyleStatusPending.Render("$ " + cmd))
		b.WriteString("\n")
	}
	b.WriteString(strings.Join(t.Output(), "\n"))
	if err := t.Err(); err != nil {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(err.Error()))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(10, m.width-listWidth-4)
	m.viewport.Height = max(5, m.height-5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
	m.scrollList()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
