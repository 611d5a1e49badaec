package cmd

import (
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/spf13/cobra"
)

var (
	statusArgs requests.Args
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Shows which files are encrypted",
	Long: `Classifies files as encrypted or plaintext and shows the last audited
operation. Defaults to the current directory.

Examples:
  # Every file in the current tree
  cage status --recursive

  # Only .env files, as JSON
  cage status . --recursive --pattern '**/*.env' --json`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := statusArgs
		a.Input = "."
		if len(args) == 1 {
			a.Input = args[0]
		}
		return runOperation(requests.OpStatus, a, "Checking files...", statusJSON)
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusArgs.Recursive, "recursive", "r", false, "check every file under a directory")
	statusCmd.Flags().StringVar(&statusArgs.Pattern, "pattern", "", "glob that files must match when recursive")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
}

func resetOperationState() {
	lockArgs = requests.Args{}
	lockSecret = secretFlags{}
	lockJSON = false
	unlockArgs = requests.Args{}
	unlockSecret = secretFlags{}
	unlockJSON = false
	rotateArgs = requests.Args{}
	rotateOldSecret = secretFlags{}
	rotateNewSecret = secretFlags{}
	rotateJSON = false
	verifyArgs = requests.Args{}
	verifySecret = secretFlags{}
	verifyJSON = false
	statusArgs = requests.Args{}
	statusJSON = false
}
