package tty

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"runtime"
)

// Method selects how a passphrase reaches an interactive program.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodScript Method = "script"
	MethodExpect Method = "expect"
	MethodPTY    Method = "pty"
)

// ErrUnavailable indicates the requested automation method cannot run here.
var ErrUnavailable = errors.New("tty automation unavailable")

// Automator answers a program's passphrase prompts on its terminal.
type Automator interface {
	Method() Method

	// Run starts cmd, answers every passphrase prompt with secret, and
	// waits for it to exit. The returned transcript never contains secret.
	Run(ctx context.Context, cmd *exec.Cmd, secret string) ([]byte, error)
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// promptPattern matches prompts such as "Enter passphrase: " and
// "Confirm passphrase: ".
var promptPattern = regexp.MustCompile(`(?i)passphrase[^\n]*:\s*$`)

// Detect returns the automator for method. Auto prefers the embedded
// pseudo-terminal and falls back to expect, then script.
func Detect(method Method) (Automator, error) {
	switch method {
	case MethodPTY:
		if !ptySupported() {
			return nil, fmt.Errorf("%w: embedded pty is not supported on %s", ErrUnavailable, runtime.GOOS)
		}
		return ptyAutomator{}, nil
	case MethodExpect:
		path, err := lookPath("expect")
		if err != nil {
			return nil, fmt.Errorf("%w: expect not found: %v", ErrUnavailable, err)
		}
		return expectAutomator{path: path}, nil
	case MethodScript:
		path, err := lookPath("script")
		if err != nil {
			return nil, fmt.Errorf("%w: script not found: %v", ErrUnavailable, err)
		}
		return scriptAutomator{path: path, goos: runtime.GOOS}, nil
	case MethodAuto, "":
		for _, m := range []Method{MethodPTY, MethodExpect, MethodScript} {
			if a, err := Detect(m); err == nil {
				return a, nil
			}
		}
		return nil, fmt.Errorf("%w: no pty support and neither expect nor script is installed", ErrUnavailable)
	default:
		return nil, fmt.Errorf("unknown tty method %q", method)
	}
}

// Available lists the concrete methods usable on this machine.
func Available() []Method {
	var methods []Method
	for _, m := range []Method{MethodPTY, MethodExpect, MethodScript} {
		if _, err := Detect(m); err == nil {
			methods = append(methods, m)
		}
	}
	return methods
}

// answerPrompts copies program output into transcript and writes secret
// to w each time a passphrase prompt appears. It returns when r is exhausted.
func answerPrompts(r io.Reader, w io.Writer, secret string, transcript *bytes.Buffer) error {
	buf := make([]byte, 1024)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			transcript.Write(buf[:n])
			pending = append(pending, buf[:n]...)
			if promptPattern.Match(pending) {
				if _, werr := io.WriteString(w, secret+"\n"); werr != nil {
					return fmt.Errorf("answer passphrase prompt: %w", werr)
				}
				pending = pending[:0]
			}
		}
		if err != nil {
			// A pty master reports EIO once the child has exited.
			return nil
		}
	}
}

func redact(transcript []byte, secret string) []byte {
	if secret == "" {
		return transcript
	}
	return bytes.ReplaceAll(transcript, []byte(secret), []byte("****"))
}
