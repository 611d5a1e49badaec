package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gowebpki/jcs"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Format is the serialization of each audit line.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Entry is one audit record. Every operation produces exactly one,
// whether it succeeded or not.
type Entry struct {
	Timestamp string `json:"ts"`   // RFC3339 with microseconds.
	User      string `json:"user"` // Local account that ran the operation.
	Operation string `json:"op"`
	Target    string `json:"target"`
	Outcome   string `json:"outcome"` // ok, failed, dry-run or partial.
	Backend   string `json:"backend,omitempty"`

	// Optional fields depending on the outcome.
	Files      int    `json:"files,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Stage      string `json:"stage,omitempty"` // Failure stage.
	Error      string `json:"error,omitempty"`
}

// Logger appends entries to a file, or to Out when set. A zero Path and
// nil Out disable logging.
type Logger struct {
	Path   string
	Format Format
	Out    io.Writer

	mu sync.Mutex
}

func NewLogger(path string, format Format) *Logger {
	return &Logger{Path: path, Format: format}
}

// Enabled reports whether entries are written anywhere.
func (l *Logger) Enabled() bool {
	return l != nil && (l.Path != "" || l.Out != nil)
}

// Log appends an entry. Failures are returned for the caller to report but
// must never fail the audited operation.
func (l *Logger) Log(entry Entry) error {
	if !l.Enabled() {
		return nil
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(timestampLayout)
	}

	line, err := l.encode(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Out != nil {
		_, err := l.Out.Write(line)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o700); err != nil {
		return fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func (l *Logger) encode(entry Entry) ([]byte, error) {
	if l.Format == FormatText {
		return append([]byte(formatText(entry)), '\n'), nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	// Canonical JSON keeps lines stable for diffing and hashing.
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}
	return append(canonical, '\n'), nil
}

// formatText renders an entry as timestamp followed by key=value pairs.
// Values that would break the line are quoted.
func formatText(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp)
	for _, kv := range textFields(e) {
		if kv[1] == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(kv[1]))
	}
	return b.String()
}

func textFields(e Entry) [][2]string {
	num := func(n int64) string {
		if n == 0 {
			return ""
		}
		return strconv.FormatInt(n, 10)
	}
	return [][2]string{
		{"op", e.Operation},
		{"target", e.Target},
		{"outcome", e.Outcome},
		{"backend", e.Backend},
		{"user", e.User},
		{"files", num(int64(e.Files))},
		{"bytes", num(e.Bytes)},
		{"duration_ms", num(e.DurationMs)},
		{"stage", e.Stage},
		{"error", e.Error},
	}
}

// quoteIfNeeded quotes values that would break a key=value line: spaces,
// quotes, equals signs and any non-printable rune such as \r.
func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \"=") || strings.IndexFunc(s, func(r rune) bool { return !unicode.IsPrint(r) }) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

// ReadEntries reads every entry from the log at path, ordered as written.
// A missing log yields no entries.
func ReadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data)
}

// ParseEntries parses JSON or text lines. Malformed lines are skipped so a
// torn final write does not hide the rest of the log.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if line[0] == '{' {
			if err := json.Unmarshal(line, &entry); err != nil {
				continue
			}
		} else {
			var ok bool
			if entry, ok = parseText(string(line)); !ok {
				continue
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseText(line string) (Entry, bool) {
	ts, rest, _ := strings.Cut(line, " ")
	if _, err := time.Parse(timestampLayout, ts); err != nil {
		return Entry{}, false
	}
	e := Entry{Timestamp: ts}

	for rest = strings.TrimSpace(rest); rest != ""; rest = strings.TrimSpace(rest) {
		key, after, found := strings.Cut(rest, "=")
		if !found {
			return Entry{}, false
		}
		var value string
		if strings.HasPrefix(after, `"`) {
			quoted, err := strconv.QuotedPrefix(after)
			if err != nil {
				return Entry{}, false
			}
			value, _ = strconv.Unquote(quoted)
			rest = after[len(quoted):]
		} else {
			value, rest, _ = strings.Cut(after, " ")
		}
		setTextField(&e, key, value)
	}
	return e, e.Operation != ""
}

func setTextField(e *Entry, key, value string) {
	parseInt := func() int64 {
		n, _ := strconv.ParseInt(value, 10, 64)
		return n
	}
	switch key {
	case "op":
		e.Operation = value
	case "target":
		e.Target = value
	case "outcome":
		e.Outcome = value
	case "backend":
		e.Backend = value
	case "user":
		e.User = value
	case "files":
		e.Files = int(parseInt())
	case "bytes":
		e.Bytes = parseInt()
	case "duration_ms":
		e.DurationMs = parseInt()
	case "stage":
		e.Stage = value
	case "error":
		e.Error = value
	}
}

// Filter returns entries matching operation and outcome; empty matches any.
func Filter(entries []Entry, operation, outcome string) []Entry {
	var matched []Entry
	for _, e := range entries {
		if operation != "" && e.Operation != operation {
			continue
		}
		if outcome != "" && e.Outcome != outcome {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp < matched[j].Timestamp
	})
	return matched
}
