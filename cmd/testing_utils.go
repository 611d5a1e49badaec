package cmd

import (
	"bytes"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	// Save original stdout and stderr
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	// Create pipes to capture output
	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	// Replace stdout and stderr
	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	// Channel to collect output
	outputChan := make(chan string, 2)

	// Start goroutines to read from pipes
	copyTo := func(r io.Reader) {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}
	go copyTo(stdoutReader)
	go copyTo(stderrReader)

	// Execute the function
	err := fn()

	// Close writers to signal EOF
	stdoutWriter.Close()
	stderrWriter.Close()

	// Restore original stdout and stderr
	os.Stdout = originalStdout
	os.Stderr = originalStderr

	// Collect output
	first := <-outputChan
	second := <-outputChan

	return first + second, err
}

// createTestCLI creates a fresh root command carrying every cage command,
// with global state reset and args set.
func createTestCLI(args ...string) *cobra.Command {
	ResetGlobalState()

	rootCmd := &cobra.Command{
		Use:           "cage",
		Short:         "Cage - safe file encryption with age.",
		SilenceErrors: true,
	}
	AddCommands(rootCmd)
	rootCmd.SetArgs(args)
	return rootCmd
}

// runCLI executes args on a fresh CLI and returns everything it printed.
func runCLI(args ...string) (string, error) {
	return captureOutput(func() error {
		return createTestCLI(args...).Execute()
	})
}
