package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/xthreen/lightyear/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State    string
	Endpoint string
	Epoch    uint64
	// ClientLabel names the server-assigned client while connected. It is
	// cleared whenever the client drops to disconnected.
	ClientLabel string
	LastError   string
	Spinner     string
	Width       int
}

// New creates a status bar model.
func New(endpoint string) Model {
	return Model{State: "disconnected", Endpoint: endpoint}
}

// SetClient sets the client id label.
func (m *Model) SetClient(id uint64) {
	m.ClientLabel = fmt.Sprintf("client %016x", id)
}

// ClearClient removes the client id label.
func (m *Model) ClearClient() {
	m.ClientLabel = ""
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	stateStyle := lipgloss.NewStyle().Foreground(theme.StateColor(m.State))
	glyph := theme.StateGlyph(m.State)
	if m.State == "connecting" && m.Spinner != "" {
		glyph = m.Spinner
	}
	connStr := stateStyle.Render(glyph + " " + capitalize(m.State))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + theme.StyleDimmed.Render("auth "+m.Endpoint)
	if m.Epoch > 0 {
		content += sep + theme.StyleDimmed.Render(fmt.Sprintf("attempt %d", m.Epoch))
	}
	if m.ClientLabel != "" {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorBright).Render(m.ClientLabel)
	}
	if m.LastError != "" && m.State == "disconnected" {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorError).Render(m.LastError)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
