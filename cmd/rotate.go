package cmd

import (
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/spf13/cobra"
)

var (
	rotateArgs      requests.Args
	rotateOldSecret secretFlags
	rotateNewSecret secretFlags
	rotateJSON      bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate <path>...",
	Short: "Re-encrypts files for new recipients or a new passphrase",
	Long: `Decrypts each file with the old identity and encrypts it again for the
new recipients or passphrase.

Rotation is atomic by default: every file is re-encrypted to a temporary
copy first and nothing is replaced until all of them succeed. With
--non-atomic files are replaced one at a time.

Examples:
  # Move a file from one key to another
  cage rotate .env.age --identity old.txt --new-recipient age1...

  # Change the passphrase on every encrypted file in a tree
  cage rotate . --recursive --passphrase --new-passphrase`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := rotateArgs
		a.Paths = args
		if rotateOldSecret.set() {
			passphrase, err := rotateOldSecret.resolve("Current passphrase", false)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to read current passphrase: %v", err)
			}
			a.Passphrase = passphrase
		}
		if rotateNewSecret.set() {
			passphrase, err := rotateNewSecret.resolve("New passphrase", true)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to read new passphrase: %v", err)
			}
			a.NewPassphrase = passphrase
		}
		return runOperation(requests.OpRotate, a, "Rotating keys...", rotateJSON)
	},
}

func init() {
	rotateCmd.Flags().BoolVarP(&rotateArgs.Recursive, "recursive", "r", false, "rotate every encrypted file under a directory")
	rotateCmd.Flags().StringVar(&rotateArgs.Pattern, "pattern", "", "glob that files must match when recursive")
	rotateCmd.Flags().StringVarP(&rotateArgs.Identity, "identity", "i", "", "current age identity file or ssh private key")
	rotateCmd.Flags().StringSliceVar(&rotateArgs.NewRecipients, "new-recipient", nil, "public key to re-encrypt for (repeatable)")
	rotateCmd.Flags().BoolVar(&rotateArgs.NonAtomic, "non-atomic", false, "replace files one at a time")
	rotateCmd.Flags().BoolVar(&rotateJSON, "json", false, "print the result as JSON")
	rotateOldSecret.bind(rotateCmd, "passphrase", "the current passphrase")
	rotateNewSecret.bind(rotateCmd, "new-passphrase", "the new passphrase")
	addCommonFlags(rotateCmd, &rotateArgs)
}
