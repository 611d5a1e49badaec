package main

import (
	"fmt"
	"os"

	"github.com/PolarWolf314/cage/cmd"
	"github.com/PolarWolf314/cage/internal/ui"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cage",
	Short: "Cage - safe file encryption with age.",
	Long: `Cage wraps the age encryption tool with the safety a team needs around
secrets on disk: validated requests, backups before anything is replaced,
atomic writes, key rotation, batch runs and an audit log.

Features:
  - Lock and unlock files or whole trees for recipients or a passphrase
  - Rotate keys across many files at once, all or nothing
  - Named recipient groups with authority tiers
  - Backups and rollback on every destructive change
  - An append-only audit log of every operation

Usage:
  cage <command> [flags]

Run 'cage help <command>' for more details on a specific command.
`,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		figure.NewColorFigure("Cage", "alligator2", "green", true).Print()
		fmt.Println()
		fmt.Println("Welcome to Cage! Run 'cage --help' to see available commands.")
	},
}

func init() {
	cmd.AddCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error.Sprint("Error: ")+err.Error())
		os.Exit(cmd.ExitCode(err))
	}
}
