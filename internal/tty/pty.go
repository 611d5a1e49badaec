package tty

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/creack/pty"
)

// drainWait bounds how long trailing output is collected after exit.
const drainWait = 200 * time.Millisecond

type ptyAutomator struct{}

func ptySupported() bool {
	return runtime.GOOS != "windows"
}

func (ptyAutomator) Method() Method { return MethodPTY }

// Run attaches cmd to a new pseudo-terminal so its /dev/tty is ours.
func (ptyAutomator) Run(ctx context.Context, cmd *exec.Cmd, secret string) ([]byte, error) {
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: start %s on pty: %v", ErrUnavailable, cmd.Path, err)
	}

	var transcript bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- answerPrompts(master, master, secret, &transcript)
	}()

	waitErr := cmd.Wait()

	var answerErr error
	select {
	case answerErr = <-done:
		_ = master.Close()
	case <-time.After(drainWait):
		_ = master.Close()
		answerErr = <-done
	}

	out := redact(transcript.Bytes(), secret)
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if waitErr != nil {
		return out, waitErr
	}
	return out, answerErr
}
