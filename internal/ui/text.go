package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter renders one kind of CLI content. With colour it uses style,
// without it wraps the text in the open and close markers.
type Formatter struct {
	style *color.Color
	open  string
	close string
}

func newFormatter(attr color.Attribute, open, close string) Formatter {
	return Formatter{style: color.New(attr), open: open, close: close}
}

func (f Formatter) render(text string) string {
	if colorDisabled() {
		return f.open + text + f.close
	}
	return f.style.Sprint(text)
}

// Sprint renders the arguments the way fmt.Sprint joins them.
func (f Formatter) Sprint(a ...interface{}) string {
	return f.render(fmt.Sprint(a...))
}

// Sprintf renders a format string.
func (f Formatter) Sprintf(format string, a ...interface{}) string {
	return f.render(fmt.Sprintf(format, a...))
}

// EnsureNewline appends a trailing newline when s lacks one.
func EnsureNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s
	}
	return s + "\n"
}

// colorDisabled honours NO_COLOR (https://no-color.org/) and fatih/color's
// own terminal detection.
func colorDisabled() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return true
	}
	return color.NoColor
}

var (
	// Code is for commands a user can copy and run.
	Code = newFormatter(color.FgYellow, "`", "`")
	// Path is for files, backups and audit logs.
	Path = newFormatter(color.FgYellow, "", "")
	// Flag is for CLI flags such as --force.
	Flag = newFormatter(color.FgYellow, "", "")

	Success = newFormatter(color.FgGreen, "", "")
	Error   = newFormatter(color.FgRed, "", "")
	Warning = newFormatter(color.FgYellow, "", "")
	// Info is for hints and arrows.
	Info = newFormatter(color.FgCyan, "", "")

	// Highlight is for user-chosen values: recipient groups, backends, tiers.
	Highlight = newFormatter(color.FgCyan, "'", "'")
	// Muted is for secondary detail such as byte counts and timings.
	Muted = newFormatter(color.FgHiBlack, "(", ")")
)

// Outcome colours a status word from a result or health report.
func Outcome(word string) string {
	switch word {
	case "ok", "healthy", "pass", "verified", "committed":
		return Success.Sprint(word)
	case "degraded", "warning", "skipped", "dry-run":
		return Warning.Sprint(word)
	default:
		return Error.Sprint(word)
	}
}
