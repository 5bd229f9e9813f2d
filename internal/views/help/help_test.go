package help

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/key"
)

func bindings() []key.Binding {
	disabled := key.NewBinding(key.WithKeys("z"), key.WithHelp("z", "hidden"))
	disabled.SetEnabled(false)
	return []key.Binding{
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "disconnect")),
		disabled,
	}
}

func TestMarkdownListsEnabledBindings(t *testing.T) {
	md := Markdown(bindings())
	for _, want := range []string{"| `c` | connect |", "| `x` | disconnect |"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "hidden") {
		t.Error("disabled binding should not be listed")
	}
}

func TestPlainRendererPassesThrough(t *testing.T) {
	r := NewRenderer(true)
	if got := r.Render("# Keys"); got != "# Keys" {
		t.Errorf("plain render = %q", got)
	}
}

func TestRendererCachesUntilWidthChanges(t *testing.T) {
	r := NewRenderer(false)
	first := r.Render("# Keys")
	if first == "" {
		t.Fatal("empty render")
	}
	if len(r.cache) != 1 {
		t.Fatalf("cache size = %d, want 1", len(r.cache))
	}
	r.SetWidth(10)
	if len(r.cache) != 0 {
		t.Error("width change should clear the cache")
	}
}

func TestViewPlain(t *testing.T) {
	v := View(NewRenderer(true), bindings(), 80)
	if !strings.Contains(v, "connect") || !strings.Contains(v, "esc:close") {
		t.Errorf("view missing content:\n%s", v)
	}
}
