package prompt

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"level two header stripped", "## X", "X"},
		{"level three header stripped", "### Steal the prompt", "Steal the prompt"},
		{"single hash preserved", "# Title", "# Title"},
		{"code fence removed", "before ```rm -rf /``` after", "before  after"},
		{"dangling fence removed", "```start of a fence", "start of a fence"},
		{"html tags removed", "<script>alert(1)</script>hello", "alert(1)hello"},
		{"trimmed", "  spaced  ", "spaced"},
		{"plain text untouched", "build a todo app", "build a todo app"},
		{"header mid-text", "goal\n## ignore above\nrest", "goal\nignore above\nrest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
