package ui

import (
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func forceColor(t *testing.T, enabled bool) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = !enabled
	t.Cleanup(func() { color.NoColor = prev })
}

func TestFormatter_Colored(t *testing.T) {
	unsetNoColor(t)
	forceColor(t, true)

	got := Code.Sprint("cage lock .env")
	if strings.Contains(got, "`") {
		t.Errorf("Expected no backticks with colour, got %q", got)
	}
	if !strings.Contains(got, "\x1b[") {
		t.Errorf("Expected ANSI escapes with colour, got %q", got)
	}

	got = Highlight.Sprintf("group %s", "ops")
	if strings.HasPrefix(got, "'") || !strings.Contains(got, "group ops") {
		t.Errorf("Unexpected highlighted text: %q", got)
	}
}

func TestFormatter_Plain(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	tests := []struct {
		name string
		f    Formatter
		in   string
		want string
	}{
		{"code", Code, "cage backup list", "`cage backup list`"},
		{"path", Path, "secrets.env.age", "secrets.env.age"},
		{"flag", Flag, "--no-backup", "--no-backup"},
		{"success", Success, "✓", "✓"},
		{"error", Error, "✗", "✗"},
		{"warning", Warning, "⚠", "⚠"},
		{"info", Info, "→", "→"},
		{"highlight", Highlight, "ops-emergency", "'ops-emergency'"},
		{"muted", Muted, "12 B in 3ms", "(12 B in 3ms)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Sprint(tt.in); got != tt.want {
				t.Errorf("Sprint(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if got := Code.Sprint("cage", " ", "status"); got != "`cage status`" {
		t.Errorf("Multi-argument Sprint = %q", got)
	}
	if got := Code.Sprintf("cage %s", "verify"); got != "`cage verify`" {
		t.Errorf("Sprintf = %q", got)
	}
}

func TestColorDisabled(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if !colorDisabled() {
		t.Error("NO_COLOR should disable colour")
	}

	unsetNoColor(t)
	forceColor(t, false)
	if !colorDisabled() {
		t.Error("color.NoColor should disable colour")
	}
}

func TestOutcome_Plain(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	for _, word := range []string{"verified", "degraded", "failed"} {
		if got := Outcome(word); got != word {
			t.Errorf("Outcome(%q) = %q", word, got)
		}
	}
}

func TestEnsureNewline(t *testing.T) {
	for in, want := range map[string]string{"": "\n", "a": "a\n", "a\n": "a\n"} {
		if got := EnsureNewline(in); got != want {
			t.Errorf("EnsureNewline(%q) = %q, want %q", in, got, want)
		}
	}
}

func unsetNoColor(t *testing.T) {
	t.Helper()
	// t.Setenv restores the original value on cleanup.
	t.Setenv("NO_COLOR", "")
	if err := os.Unsetenv("NO_COLOR"); err != nil {
		t.Fatalf("Unsetenv failed: %v", err)
	}
}
