package cmd

import (
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/spf13/cobra"
)

var (
	lockArgs   requests.Args
	lockSecret secretFlags
	lockJSON   bool
)

var lockCmd = &cobra.Command{
	Use:   "lock <path>",
	Short: "Encrypts a file or directory for recipients or with a passphrase",
	Long: `Encrypts a file, or every matching file under a directory, with age.

Ciphertext is written next to the input with an .age suffix unless --output
or --in-place says otherwise. Existing outputs are never overwritten without
--force, and in-place encryption backs up the original first.

Recipients come from --recipient, from named recipient groups (--group), or
a passphrase (--passphrase). Groups are filtered by --tier.

Examples:
  # Encrypt one file for a recipient
  cage lock .env --recipient age1...

  # Encrypt every .env file in a tree for the ops group
  cage lock . --recursive --pattern '**/*.env' --group ops

  # Replace a file with its armored ciphertext
  cage lock secrets.txt --in-place --format armor --passphrase`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := lockArgs
		a.Input = args[0]
		if lockSecret.set() {
			passphrase, err := lockSecret.resolve("Passphrase", true)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to read passphrase: %v", err)
			}
			a.Passphrase = passphrase
		}
		return runOperation(requests.OpLock, a, "Encrypting files...", lockJSON)
	},
}

func init() {
	lockCmd.Flags().StringVarP(&lockArgs.Output, "output", "o", "", "write ciphertext to this path")
	lockCmd.Flags().BoolVar(&lockArgs.InPlace, "in-place", false, "replace the input with its ciphertext")
	lockCmd.Flags().BoolVarP(&lockArgs.Recursive, "recursive", "r", false, "encrypt every matching file under a directory")
	lockCmd.Flags().StringVar(&lockArgs.Pattern, "pattern", "", "glob that files must match when recursive, e.g. '**/*.env'")
	lockCmd.Flags().StringSliceVar(&lockArgs.Recipients, "recipient", nil, "age or ssh public key to encrypt for (repeatable)")
	lockCmd.Flags().StringSliceVar(&lockArgs.Groups, "group", nil, "recipient group from the configuration (repeatable)")
	lockCmd.Flags().StringVar(&lockArgs.Tier, "tier", "", "highest group tier to include: standard, elevated or emergency")
	lockCmd.Flags().StringVar(&lockArgs.Format, "format", "", "ciphertext format: binary, armor or auto")
	lockCmd.Flags().BoolVar(&lockJSON, "json", false, "print the result as JSON")
	lockSecret.bind(lockCmd, "passphrase", "the passphrase")
	addCommonFlags(lockCmd, &lockArgs)
}
