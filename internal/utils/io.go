package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadStdin reads a secret piped on stdin, minus its trailing newline.
// A terminal on stdin or an empty pipe is an error.
func ReadStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, fmt.Errorf("inspecting stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("stdin is a terminal; pipe the secret in or use the prompt")
	}
	return readSecret(os.Stdin)
}

func readSecret(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, errors.New("stdin is empty")
	}
	return data, nil
}
