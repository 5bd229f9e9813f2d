package theme

import "testing"

func TestStateColor(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"disconnected", string(ColorDisconnected)},
		{"connecting", string(ColorConnecting)},
		{"connected", string(ColorConnected)},
		{"bogus", string(ColorDefault)},
	}
	for _, tt := range tests {
		if got := string(StateColor(tt.state)); got != tt.want {
			t.Errorf("StateColor(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestStateGlyph(t *testing.T) {
	if StateGlyph("connected") == StateGlyph("disconnected") {
		t.Error("connected and disconnected should render differently")
	}
}
