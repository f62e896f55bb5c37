package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/params"
	"github.com/aristath/bdencode/internal/scheduler"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// actionMsg reports the outcome of a per-task or graph-wide control.
type actionMsg struct {
	op  string
	key string
	err error
}

// runDoneMsg is sent when a run-all finishes.
type runDoneMsg struct {
	err error
}

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	ctx          context.Context
	sched        *scheduler.Scheduler
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	paramsPane   ParamsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showParams   bool
	runCancel    context.CancelFunc
	status       string
	statusErr    bool
}

// New creates the dashboard. It subscribes to all events from the bus;
// task controls run under ctx.
func New(ctx context.Context, sched *scheduler.Scheduler, store *params.Store, bus *events.Bus) Model {
	return Model{
		ctx:          ctx,
		sched:        sched,
		taskPane:     NewTaskPaneModel(sched.Graph()),
		progressPane: NewProgressPaneModel(sched.Graph().Progress()),
		paramsPane:   NewParamsPaneModel(store),
		focusedPane:  PaneTasks,
		eventSub:     bus.SubscribeAll(events.DefaultBuffer),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
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
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The parameter form is modal.
		if m.showParams {
			var cmd tea.Cmd
			m.paramsPane, cmd = m.paramsPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.paramsPane.IsVisible() {
				m.showParams = false
				if err := m.paramsPane.Err(); err != nil {
					m.setStatus(err.Error(), true)
				} else if n := m.paramsPane.Notice(); n != "" {
					m.setStatus(n, false)
				}
			}
			return m, tea.Batch(cmds...)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.paramsPane.SetSize(msg.Width, msg.Height)

	case actionMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(msg.op+" "+msg.key, false)
		}
		m.taskPane.Refresh()

	case runDoneMsg:
		m.runCancel = nil
		m.progressPane.SetRunning("")
		switch {
		case msg.err == nil:
			m.setStatus("run all finished", false)
		case errors.Is(msg.err, context.Canceled):
			m.setStatus("run all cancelled", false)
		default:
			m.setStatus(msg.err.Error(), true)
		}
		m.taskPane.Refresh()

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.Event:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		if m.showParams {
			var cmd tea.Cmd
			m.paramsPane, cmd = m.paramsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case KeyQuit, KeyCtrlC:
		if m.runCancel != nil {
			m.runCancel()
		}
		m.quitting = true
		return m, tea.Quit

	case KeyTab:
		m.focusedPane = (m.focusedPane + 1) % paneCount
		m.updateFocusStates()

	case KeyShiftTab:
		m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
		m.updateFocusStates()

	case KeyPane1:
		m.focusedPane = PaneTasks
		m.updateFocusStates()

	case KeyPane2:
		m.focusedPane = PaneProgress
		m.updateFocusStates()

	case KeyStart:
		cmd = m.taskAction("started", func(t *scheduler.Task) error {
			return m.sched.Controller().Start(m.ctx, t)
		})

	case KeyPause:
		cmd = m.taskAction("toggled", m.sched.Controller().Toggle)

	case KeyStop:
		cmd = m.taskAction("stopped", func(t *scheduler.Task) error {
			return m.sched.Controller().Stop(m.ctx, t)
		})

	case KeyRunAll, KeyRunPar:
		cmd = m.startRun(msg.String() == KeyRunPar)

	case KeyStopAll:
		if m.runCancel != nil {
			m.runCancel()
		}
		sched, ctx := m.sched, m.ctx
		cmd = func() tea.Msg {
			return actionMsg{op: "stopped", key: "all tasks", err: sched.StopAll(ctx)}
		}

	case KeyParams, KeyGlobal:
		episode := ""
		if msg.String() == KeyParams {
			t := m.taskPane.Selected()
			if t == nil {
				break
			}
			episode = t.Episode()
		}
		m.showParams = true
		cmd = m.paramsPane.Open(episode)

	default:
		switch m.focusedPane {
		case PaneTasks:
			m.taskPane, cmd = m.taskPane.Update(msg)
		case PaneProgress:
			m.progressPane, cmd = m.progressPane.Update(msg)
		}
	}

	return m, cmd
}

// taskAction runs op on the selected task off the update loop.
func (m Model) taskAction(op string, fn func(*scheduler.Task) error) tea.Cmd {
	t := m.taskPane.Selected()
	if t == nil {
		return nil
	}
	return func() tea.Msg {
		return actionMsg{op: op, key: t.Key().String(), err: fn(t)}
	}
}

func (m *Model) startRun(parallel bool) tea.Cmd {
	if m.runCancel != nil {
		m.setStatus("a run is already in progress", true)
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.runCancel = cancel
	mode := "serial"
	if parallel {
		mode = "parallel"
	}
	m.progressPane.SetRunning(mode)
	m.setStatus("run all started ("+mode+")", false)

	sched := m.sched
	return func() tea.Msg {
		defer cancel()
		var err error
		if parallel {
			err = sched.RunParallel(ctx, 0)
		} else {
			err = sched.RunAll(ctx)
		}
		return runDoneMsg{err: err}
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showParams {
		return m.paramsPane.View()
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())

	status := StyleNotice.Render(m.status)
	if m.statusErr {
		status = StyleError.Render(m.status)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, status, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	rightWidth := max(24, m.width*25/100)
	leftWidth := m.width - rightWidth
	availableHeight := m.height - 2 // status line and help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
