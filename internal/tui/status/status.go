// Package status implements the terminal FIPS mode monitor behind
// "fipsctl watch". It polls the daemon socket, renders the status and
// provider groups plus recent transitions, and can request mode changes.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cloudflared-fips/fips-installer/internal/history"
	"github.com/cloudflared-fips/fips-installer/internal/ipc"
	"github.com/cloudflared-fips/fips-installer/internal/mode"
	"github.com/cloudflared-fips/fips-installer/pkg/buildinfo"
)

// historyRows is how many journal entries the monitor shows.
const historyRows = 8

// Daemon is the subset of the IPC client the monitor uses.
type Daemon interface {
	Status(ctx context.Context) (mode.Status, error)
	Providers(ctx context.Context) ([]string, error)
	History(ctx context.Context, limit int) ([]history.Entry, error)
	Enable(ctx context.Context, version string) (ipc.ModeResult, error)
	Disable(ctx context.Context) (ipc.ModeResult, error)
	Close() error
}

// Connector opens a fresh daemon connection.
type Connector func(ctx context.Context) (Daemon, error)

// StatusModel is the Bubbletea model for the FIPS mode monitor.
type StatusModel struct {
	socketPath string
	interval   time.Duration
	connect    Connector

	viewport viewport.Model
	spinner  spinner.Model

	status    *mode.Status
	providers []string
	entries   []history.Entry
	cursor    int
	pending   string // operation in flight, "" when idle
	lastOp    string // outcome of the last operation
	lastPoll  time.Time
	err       error
	width     int
	height    int
	ready     bool
}

// NewStatusModel creates a monitor for the daemon at socketPath.
func NewStatusModel(socketPath string, interval time.Duration) StatusModel {
	return newStatusModel(socketPath, interval, func(ctx context.Context) (Daemon, error) {
		return ipc.Dial(ctx, socketPath)
	})
}

func newStatusModel(socketPath string, interval time.Duration, connect Connector) StatusModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = busyStyle
	return StatusModel{
		socketPath: socketPath,
		interval:   interval,
		connect:    connect,
		spinner:    sp,
	}
}

// pollMsg carries one snapshot of the daemon state.
type pollMsg struct {
	status    mode.Status
	providers []string
	entries   []history.Entry
	err       error
}

// actionMsg reports the outcome of an enable or disable request.
type actionMsg struct {
	op  string
	err error
}

// tickMsg triggers the next poll.
type tickMsg struct{}

// pollDaemon fetches status, providers and recent history.
func pollDaemon(connect Connector) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		d, err := connect(ctx)
		if err != nil {
			return pollMsg{err: err}
		}
		defer d.Close()

		st, err := d.Status(ctx)
		if err != nil {
			return pollMsg{err: err}
		}
		providers, err := d.Providers(ctx)
		if err != nil {
			return pollMsg{err: err}
		}
		// The journal is optional on the daemon side.
		entries, _ := d.History(ctx, historyRows)
		return pollMsg{status: st, providers: providers, entries: entries}
	}
}

// runAction requests a mode change. Enable blocks for the daemon's poll
// interval, so this runs as its own command.
func runAction(connect Connector, op, version string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		d, err := connect(ctx)
		if err != nil {
			return actionMsg{op: op, err: err}
		}
		defer d.Close()

		if op == "enable" {
			_, err = d.Enable(ctx, version)
		} else {
			_, err = d.Disable(ctx)
		}
		return actionMsg{op: op, err: err}
	}
}

// scheduleTick returns a command that sends a tickMsg after the interval.
func scheduleTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Init starts the first poll and schedules the tick loop.
func (m StatusModel) Init() tea.Cmd {
	return tea.Batch(pollDaemon(m.connect), scheduleTick(m.interval))
}

// Update handles messages.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentH := msg.Height - 6 // reserve for header/footer
		if contentH < 5 {
			contentH = 5
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, contentH)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = contentH
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case pollMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			st := msg.status
			m.status = &st
			m.providers = msg.providers
			m.entries = msg.entries
			if m.cursor >= len(m.providers) {
				m.cursor = 0
			}
		}
		m.refreshViewport()
		return m, nil

	case actionMsg:
		m.pending = ""
		if msg.err != nil {
			m.lastOp = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		} else {
			m.lastOp = msg.op + " succeeded"
		}
		m.refreshViewport()
		return m, pollDaemon(m.connect)

	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshViewport()
		return m, cmd

	case tickMsg:
		return m, tea.Batch(pollDaemon(m.connect), scheduleTick(m.interval))

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, pollDaemon(m.connect)
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			m.refreshViewport()
			return m, nil
		case "down", "j":
			if m.cursor < len(m.providers)-1 {
				m.cursor++
			}
			m.refreshViewport()
			return m, nil
		case "e", "enter":
			if m.pending != "" || len(m.providers) == 0 {
				return m, nil
			}
			m.pending = "enable " + m.providers[m.cursor]
			m.refreshViewport()
			return m, tea.Batch(runAction(m.connect, "enable", m.providers[m.cursor]), m.spinner.Tick)
		case "d":
			if m.pending != "" {
				return m, nil
			}
			m.pending = "disable"
			m.refreshViewport()
			return m, tea.Batch(runAction(m.connect, "disable", ""), m.spinner.Tick)
		}
	}

	// Delegate to viewport for scrolling
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *StatusModel) refreshViewport() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

// View renders the monitor.
func (m StatusModel) View() string {
	var b strings.Builder

	header := headerStyle.Render(
		titleStyle.Render("fips-installer") +
			dimStyle.Render(" "+buildinfo.Version) +
			dimStyle.Render(" | FIPS Mode") +
			m.renderLastUpdate())
	b.WriteString(header)
	b.WriteString("\n")

	if !m.ready {
		b.WriteString("\n  Initializing...\n")
		return b.String()
	}

	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(m.renderFooter()))

	return b.String()
}

func (m StatusModel) renderLastUpdate() string {
	if m.lastPoll.IsZero() {
		return dimStyle.Render(" | Connecting...")
	}
	return dimStyle.Render(fmt.Sprintf(" | Updated %s", m.lastPoll.Format("15:04:05")))
}

func (m StatusModel) renderContent() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(failStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("  Press 'r' to retry | Check that fips-installer is running"))
		b.WriteString("\n")
		return b.String()
	}

	if m.status == nil {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  Waiting for first poll..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(renderModeBox(*m.status))
	b.WriteString("\n")

	if m.pending != "" {
		b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), busyStyle.Render(m.pending+"...")))
	} else if m.lastOp != "" {
		style := onStyle
		if strings.Contains(m.lastOp, "failed") {
			style = failStyle
		}
		b.WriteString("  " + style.Render(m.lastOp) + "\n")
	}

	b.WriteString(renderProviders(m.providers, m.cursor, *m.status))
	b.WriteString(renderHistory(m.entries))

	return b.String()
}

func (m StatusModel) renderFooter() string {
	connStatus := onStyle.Render("Connected")
	if m.err != nil {
		connStatus = failStyle.Render("Disconnected")
	}

	return fmt.Sprintf(" [q] Quit  [r] Refresh  [↑/↓] Select  [e] Enable  [d] Disable  | every %s | %s to %s",
		m.interval, connStatus, m.socketPath)
}
