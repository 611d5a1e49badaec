package utils

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/term"
)

// controllingTerminal is the device a passphrase can be read from when
// stdin carries other data.
func controllingTerminal() string {
	if runtime.GOOS == "windows" {
		return "CON"
	}
	return "/dev/tty"
}

// readHidden shows prompt on stderr and reads one line from f with echo off.
func readHidden(f *os.File, prompt string) ([]byte, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}

	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return secret, nil
}

// ReadPassphrase prompts on stderr and reads a passphrase from stdin
// without echo. Stdin must be a terminal.
func ReadPassphrase(prompt string) ([]byte, error) {
	return readHidden(os.Stdin, prompt)
}

// ReadPassphraseFromTTY reads a passphrase from the controlling terminal
// instead of stdin, so stdin can stay a pipe.
func ReadPassphraseFromTTY(prompt string) ([]byte, error) {
	dev := controllingTerminal()
	f, err := os.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("opening %s for passphrase input: %w", dev, err)
	}
	defer f.Close()
	return readHidden(f, prompt)
}

// IsTerminal reports whether stdin is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsTTYAvailable reports whether a controlling terminal can be opened.
func IsTTYAvailable() bool {
	f, err := os.Open(controllingTerminal())
	if err != nil {
		return false
	}
	defer f.Close()
	return term.IsTerminal(int(f.Fd()))
}
