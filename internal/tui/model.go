package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"wavectl/internal/engine"
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// Options configure the run view.
type Options struct {
	// Run is the snapshot the view starts from.
	Run *run.DeploymentRun
	// Events streams engine events for the run; may be nil.
	Events <-chan engine.Event
	// Logs streams log entries into the activity pane; may be nil.
	Logs <-chan logging.LogEntry
	// Wait blocks until the run settles.
	Wait func(ctx context.Context) (*run.DeploymentRun, error)
	// Cancel requests cancellation of the run.
	Cancel func() error
	// Refresh fetches a fresh snapshot. It is polled every RefreshInterval
	// while the run is in progress; used when no event stream exists.
	Refresh         func(ctx context.Context) (*run.DeploymentRun, error)
	RefreshInterval time.Duration
}

const defaultRefreshInterval = 2 * time.Second

type runEventMsg engine.Event

type eventsClosedMsg struct{}

type logEntryMsg logging.LogEntry

type refreshTickMsg struct{}

type refreshedMsg struct {
	run *run.DeploymentRun
	err error
}

type runDoneMsg struct {
	run *run.DeploymentRun
	err error
}

type statusMsg struct {
	text  string
	isErr bool
}

type clearStatusMsg struct{ seq int }

// Model is the bubbletea model of a single run.
type Model struct {
	opts   Options
	keys   KeyMap
	ctx    context.Context
	cancel context.CancelFunc

	run    *run.DeploymentRun
	cursor int
	done   bool
	err    error

	activity []string
	showLog  bool

	status    statusMsg
	statusSeq int

	spinner  spinner.Model
	help     help.Model
	viewport viewport.Model
	width    int
	height   int
}

// NewModel creates the view. opts.Run must not be nil.
func NewModel(opts Options) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = activeStyle

	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		opts:     opts,
		keys:     DefaultKeyMap(),
		ctx:      ctx,
		cancel:   cancel,
		run:      opts.Run.Clone(),
		showLog:  true,
		spinner:  s,
		help:     help.New(),
		viewport: viewport.New(0, 0),
	}
}

// Result returns the last known run state and the error Wait reported.
func (m *Model) Result() (*run.DeploymentRun, error) {
	return m.run, m.err
}

// Init starts the spinner and the listeners.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitCmd()}
	if m.opts.Events != nil {
		cmds = append(cmds, listenForEvents(m.opts.Events))
	}
	if m.opts.Logs != nil {
		cmds = append(cmds, listenForLogs(m.opts.Logs))
	}
	if m.opts.Refresh != nil {
		cmds = append(cmds, m.refreshTick())
	}
	return tea.Batch(cmds...)
}

func (m *Model) refreshTick() tea.Cmd {
	interval := m.opts.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return tea.Tick(interval, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

func (m *Model) refreshCmd() tea.Cmd {
	refresh := m.opts.Refresh
	ctx := m.ctx
	return func() tea.Msg {
		r, err := refresh(ctx)
		return refreshedMsg{run: r, err: err}
	}
}

func listenForEvents(ch <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return runEventMsg(ev)
	}
}

func listenForLogs(ch <-chan logging.LogEntry) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return nil
		}
		return logEntryMsg(entry)
	}
}

func (m *Model) waitCmd() tea.Cmd {
	if m.opts.Wait == nil {
		return nil
	}
	wait := m.opts.Wait
	ctx := m.ctx
	return func() tea.Msg {
		r, err := wait(ctx)
		return runDoneMsg{run: r, err: err}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.resizeViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runEventMsg:
		m.applyEvent(engine.Event(msg))
		return m, listenForEvents(m.opts.Events)

	case eventsClosedMsg:
		return m, nil

	case refreshTickMsg:
		if m.done {
			return m, nil
		}
		return m, m.refreshCmd()

	case refreshedMsg:
		if m.done {
			return m, nil
		}
		if msg.err != nil {
			logging.Debug("TUI", "Refreshing run %s failed: %v", m.run.ID, msg.err)
		} else if msg.run != nil {
			m.run = msg.run
		}
		return m, m.refreshTick()

	case logEntryMsg:
		m.appendLog(formatLogEntry(logging.LogEntry(msg)))
		return m, listenForLogs(m.opts.Logs)

	case runDoneMsg:
		m.done = true
		m.err = msg.err
		if msg.run != nil {
			m.run = msg.run
		}
		if msg.err != nil {
			return m, m.setStatus(statusMsg{text: msg.err.Error(), isErr: true})
		}
		return m, m.setStatus(statusMsg{text: fmt.Sprintf("Run %s. Press q to exit.", m.run.Status)})

	case statusMsg:
		return m, m.setStatus(msg)

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = statusMsg{}
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.run.Ordered())-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resizeViewport()
	case key.Matches(msg, m.keys.ToggleLog):
		m.showLog = !m.showLog
		m.resizeViewport()
	case key.Matches(msg, m.keys.Cancel):
		if m.done || m.opts.Cancel == nil {
			return m, nil
		}
		cancel := m.opts.Cancel
		return m, func() tea.Msg {
			if err := cancel(); err != nil {
				return statusMsg{text: "Cancel failed: " + err.Error(), isErr: true}
			}
			return statusMsg{text: "Cancellation requested"}
		}
	case key.Matches(msg, m.keys.CopyLogs):
		if err := clipboard.WriteAll(strings.Join(m.activity, "\n")); err != nil {
			logging.Warn("TUI", "Failed to copy logs: %v", err)
			return m, m.setStatus(statusMsg{text: "Copy logs failed", isErr: true})
		}
		return m, m.setStatus(statusMsg{text: "Logs copied to clipboard"})
	case key.Matches(msg, m.keys.CopyRunID):
		if err := clipboard.WriteAll(m.run.ID); err != nil {
			logging.Warn("TUI", "Failed to copy run id: %v", err)
			return m, m.setStatus(statusMsg{text: "Copy run id failed", isErr: true})
		}
		return m, m.setStatus(statusMsg{text: "Run ID copied to clipboard"})
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) setStatus(s statusMsg) tea.Cmd {
	m.statusSeq++
	m.status = s
	seq := m.statusSeq
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

// applyEvent folds an engine event into the snapshot.
func (m *Model) applyEvent(ev engine.Event) {
	if m.run == nil || ev.RunID != m.run.ID {
		return
	}
	if ev.Transition == nil {
		if ev.Status != "" {
			m.run.Status = ev.Status
		}
		m.run.Error = ev.Error
		return
	}
	m.run.Apply(*ev.Transition)
}

func (m *Model) appendLog(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivityLogLines {
		m.activity = m.activity[len(m.activity)-maxActivityLogLines:]
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.activity, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func formatLogEntry(e logging.LogEntry) string {
	line := fmt.Sprintf("[%s] %s %s: %s", e.Timestamp.Format("15:04:05"), e.Level, e.Subsystem, e.Message)
	if e.Err != nil {
		line += ": " + e.Err.Error()
	}
	return line
}

func (m *Model) resizeViewport() {
	m.viewport.Width = max(m.width-4, 0)
	if !m.showLog || m.height < minHeightForLog {
		m.viewport.Height = 0
		return
	}
	m.viewport.Height = max(m.height/3, 3)
}
