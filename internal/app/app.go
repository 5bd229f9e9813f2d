package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/connect"
	"github.com/xthreen/lightyear/internal/session"
	"github.com/xthreen/lightyear/internal/theme"
	"github.com/xthreen/lightyear/internal/views/debug"
	"github.com/xthreen/lightyear/internal/views/help"
	"github.com/xthreen/lightyear/internal/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDebug
	OverlayHelp
)

// tickMsg drives one iteration of the connect loop.
type tickMsg time.Time

// Model is the root Bubble Tea model. The Bubble Tea event loop is the tick
// loop: every tickMsg calls Machine.Tick, and key presses call the machine's
// click handlers, all on the same goroutine.
type Model struct {
	machine  *connect.Machine
	interval time.Duration

	keys    KeyMap
	width   int
	height  int
	overlay Overlay

	// Pointers so machine callbacks registered in New reach the live copy.
	statusBar *status.Model
	log       *debug.Model

	help    *help.Renderer
	spinner spinner.Model
}

// New creates the root model around machine. interval is the tick period.
func New(machine *connect.Machine, interval time.Duration, noColor bool) Model {
	sb := status.New(machine.Endpoint())
	log := debug.New()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorConnecting)

	machine.OnTransition(func(t connect.Transition) {
		sb.State = t.To.String()
		sb.Epoch = t.Epoch
		switch t.To {
		case connect.Connecting:
			sb.LastError = ""
			log.Add(debug.KindFetch, "requesting token from %s (attempt %d)", machine.Endpoint(), t.Epoch)
		case connect.Connected:
			sb.SetClient(machine.ClientID())
			log.Add(debug.KindSession, "connected as client %016x", machine.ClientID())
		case connect.Disconnected:
			if t.Err != nil {
				sb.LastError = errorLabel(t.Err)
				log.Add(debug.KindError, "%v", t.Err)
			} else {
				log.Add(debug.KindSession, "disconnected")
			}
		}
	})
	machine.OnDisconnected(sb.ClearClient)

	return Model{
		machine:   machine,
		interval:  interval,
		keys:      DefaultKeyMap(),
		statusBar: &sb,
		log:       &log,
		help:      help.NewRenderer(noColor),
		spinner:   sp,
	}
}

// errorLabel is the short form shown in the status bar.
func errorLabel(err error) string {
	if k := auth.KindOf(err); k != 0 {
		return k.String()
	}
	var rej *session.RejectedError
	if errors.As(err, &rej) {
		return "rejected: " + rej.Reason
	}
	return "session lost"
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the tick loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.scheduleTick(), m.spinner.Tick)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		return m, nil

	case tickMsg:
		m.machine.Tick()
		return m, m.scheduleTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.statusBar.Spinner = m.spinner.View()
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.machine.OnDisconnectClicked()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Up):
			m.log.ScrollUp(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Down):
			m.log.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Connect):
		if !m.machine.OnConnectClicked() {
			m.log.Add(debug.KindInput, "connect ignored while %s", m.machine.State())
		}
	case key.Matches(msg, m.keys.Disconnect):
		m.machine.OnDisconnectClicked()
	case key.Matches(msg, m.keys.Toggle):
		m.machine.Toggle()
	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
	}
	return m, nil
}

// View renders the client.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlayDebug:
		body = m.log.View(m.width, m.height-4)
	case OverlayHelp:
		body = help.View(m.help, m.keys.Bindings(), m.width)
	default:
		body = m.renderMain()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(),
		body,
		theme.StyleDimmed.Render("  c:connect  x:disconnect  enter:toggle  d:log  ?:help  q:quit"),
	)
}

func (m Model) renderMain() string {
	state := m.machine.State()
	style := lipgloss.NewStyle().Bold(true).Foreground(theme.StateColor(state.String()))

	var hint string
	switch state {
	case connect.Disconnected:
		hint = "Press c to connect."
	case connect.Connecting:
		if m.machine.Pending() {
			hint = fmt.Sprintf("%s Fetching a connect token from %s...", m.spinner.View(), m.machine.Endpoint())
		} else {
			hint = m.spinner.View() + " Handing the token to the session server..."
		}
	case connect.Connected:
		hint = fmt.Sprintf("Session up as client %016x. Press x to disconnect.", m.machine.ClientID())
	}

	title := style.Render(fmt.Sprintf("  %s %s", theme.StateGlyph(state.String()), state))
	return lipgloss.JoinVertical(lipgloss.Left, "", title, "", "  "+hint, "")
}
