package cmd

import (
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/spf13/cobra"
)

var (
	verifyArgs   requests.Args
	verifySecret secretFlags
	verifyJSON   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <path>...",
	Short: "Checks that files are well-formed age ciphertext",
	Long: `Checks each file's age header. With --deep every file is also decrypted
to a scratch location and discarded, which proves the identity can open it.

Verification never modifies files.

Examples:
  # Check headers in a tree
  cage verify . --recursive

  # Prove a key can open every file
  cage verify secrets/ --recursive --deep --identity key.txt`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := verifyArgs
		a.Paths = args
		if verifySecret.set() {
			passphrase, err := verifySecret.resolve("Passphrase", false)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to read passphrase: %v", err)
			}
			a.Passphrase = passphrase
		}
		return runOperation(requests.OpVerify, a, "Verifying files...", verifyJSON)
	},
}

func init() {
	verifyCmd.Flags().BoolVarP(&verifyArgs.Recursive, "recursive", "r", false, "verify every encrypted file under a directory")
	verifyCmd.Flags().StringVar(&verifyArgs.Pattern, "pattern", "", "glob that files must match when recursive")
	verifyCmd.Flags().BoolVar(&verifyArgs.Deep, "deep", false, "decrypt each file to prove it opens")
	verifyCmd.Flags().StringVarP(&verifyArgs.Identity, "identity", "i", "", "identity used by --deep")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the report as JSON")
	verifySecret.bind(verifyCmd, "passphrase", "the passphrase used by --deep")
}
