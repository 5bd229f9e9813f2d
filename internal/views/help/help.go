// Package help renders the key binding overlay. The text is written as
// markdown and rendered with Glamour.
package help

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/xthreen/lightyear/internal/theme"
)

// Renderer renders markdown with Glamour and caches the output per width.
type Renderer struct {
	mu       sync.Mutex
	width    int
	cache    map[string]string
	renderer *glamour.TermRenderer
	plain    bool // NO_COLOR or renderer setup failed
}

func NewRenderer(noColor bool) *Renderer {
	r := &Renderer{cache: make(map[string]string), plain: noColor}
	if !noColor {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(0),
		)
		if err != nil {
			r.plain = true
		} else {
			r.renderer = tr
		}
	}
	return r
}

// SetWidth drops the cache when the width changes.
func (r *Renderer) SetWidth(width int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.width != width {
		r.width = width
		r.cache = make(map[string]string)
	}
}

func (r *Renderer) Render(markdown string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out, ok := r.cache[markdown]; ok {
		return out
	}
	out := markdown
	if !r.plain && r.renderer != nil {
		if rendered, err := r.renderer.Render(markdown); err == nil {
			out = rendered
		}
	}
	r.cache[markdown] = out
	return out
}

// Markdown lists the enabled bindings as a table.
func Markdown(bindings []key.Binding) string {
	var b strings.Builder
	b.WriteString("# Keys\n\n| Key | Action |\n| --- | --- |\n")
	for _, kb := range bindings {
		if !kb.Enabled() {
			continue
		}
		h := kb.Help()
		fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
	}
	b.WriteString("\nConnect fetches a token from the auth endpoint, then hands it to the session server. ")
	b.WriteString("Disconnect abandons whatever is in flight.\n")
	return b.String()
}

// View renders the overlay panel.
func View(r *Renderer, bindings []key.Binding, width int) string {
	innerW := max(width-4, 30)
	r.SetWidth(innerW)
	body := strings.TrimRight(r.Render(Markdown(bindings)), "\n")
	footer := theme.StyleDimmed.Render("esc:close")
	return lipgloss.NewStyle().
		Width(innerW).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, body, footer))
}
