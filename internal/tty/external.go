package tty

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode"
)

// secretEnv carries the passphrase to the expect script without putting it
// on a command line.
const secretEnv = "CAGE_PASSPHRASE"

type expectAutomator struct {
	path string
}

func (expectAutomator) Method() Method { return MethodExpect }

func (a expectAutomator) Run(ctx context.Context, cmd *exec.Cmd, secret string) ([]byte, error) {
	spawn, err := tclWords(cmd.Args)
	if err != nil {
		return nil, err
	}
	script := strings.Join([]string{
		"set timeout -1",
		"log_user 1",
		"spawn -noecho " + spawn,
		`expect {`,
		`  -re {(?i)passphrase[^\n]*:} { send -- "$env(` + secretEnv + `)\r"; exp_continue }`,
		`  eof`,
		`}`,
		`lassign [wait] pid spawnid os_error value`,
		`exit $value`,
	}, "\n")

	wrapped := exec.CommandContext(ctx, a.path, "-c", script)
	wrapped.Dir = cmd.Dir
	wrapped.Env = append(environ(cmd), secretEnv+"="+secret)
	return runWrapped(ctx, wrapped, nil, secret)
}

type scriptAutomator struct {
	path string
	goos string
}

func (scriptAutomator) Method() Method { return MethodScript }

// Run feeds the passphrase on script's stdin, which script forwards to the
// program's terminal. Two copies answer an encrypt's confirmation prompt.
func (a scriptAutomator) Run(ctx context.Context, cmd *exec.Cmd, secret string) ([]byte, error) {
	var wrapped *exec.Cmd
	switch a.goos {
	case "linux":
		wrapped = exec.CommandContext(ctx, a.path, "-q", "-e", "-c", shellJoin(cmd.Args), "/dev/null")
	default:
		args := append([]string{"-q", "/dev/null"}, cmd.Args...)
		wrapped = exec.CommandContext(ctx, a.path, args...)
	}
	wrapped.Dir = cmd.Dir
	wrapped.Env = environ(cmd)
	return runWrapped(ctx, wrapped, strings.NewReader(strings.Repeat(secret+"\n", 2)), secret)
}

func environ(cmd *exec.Cmd) []string {
	if cmd.Env != nil {
		return append([]string(nil), cmd.Env...)
	}
	return os.Environ()
}

func runWrapped(ctx context.Context, cmd *exec.Cmd, stdin *strings.Reader, secret string) ([]byte, error) {
	var transcript bytes.Buffer
	cmd.Stdout = &transcript
	cmd.Stderr = &transcript
	if stdin != nil {
		cmd.Stdin = stdin
	}
	err := cmd.Run()
	out := redact(transcript.Bytes(), secret)
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, err
}

// shellJoin quotes args for sh -c.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// tclWords quotes args as Tcl words by escaping every non-alphanumeric
// character. Newlines cannot be escaped this way and are rejected.
func tclWords(args []string) (string, error) {
	words := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, "\n\r") {
			return "", fmt.Errorf("argument %d contains a newline and cannot be passed to expect", i)
		}
		if a == "" {
			words[i] = `""`
			continue
		}
		var b strings.Builder
		for _, r := range a {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		words[i] = b.String()
	}
	return strings.Join(words, " "), nil
}
