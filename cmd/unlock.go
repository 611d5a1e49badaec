package cmd

import (
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/spf13/cobra"
)

var (
	unlockArgs   requests.Args
	unlockSecret secretFlags
	unlockJSON   bool
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <path>",
	Short: "Decrypts a file or directory with an identity or passphrase",
	Long: `Decrypts an .age file, or every encrypted file under a directory.

Plaintext is written next to the input without its .age suffix. The
ciphertext is removed afterwards (a backup is kept) unless
--preserve-encrypted is given.

Examples:
  # Decrypt with an identity file
  cage unlock .env.age --identity ~/.config/age/key.txt

  # Decrypt a tree, skipping files the identity cannot open
  cage unlock . --recursive --selective --identity key.txt

  # Decrypt with a passphrase and keep the ciphertext
  cage unlock notes.age --passphrase --preserve-encrypted`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := unlockArgs
		a.Input = args[0]
		if unlockSecret.set() {
			passphrase, err := unlockSecret.resolve("Passphrase", false)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to read passphrase: %v", err)
			}
			a.Passphrase = passphrase
		}
		return runOperation(requests.OpUnlock, a, "Decrypting files...", unlockJSON)
	},
}

func init() {
	unlockCmd.Flags().StringVarP(&unlockArgs.Output, "output", "o", "", "write plaintext to this path")
	unlockCmd.Flags().BoolVar(&unlockArgs.InPlace, "in-place", false, "replace the input with its plaintext")
	unlockCmd.Flags().BoolVarP(&unlockArgs.Recursive, "recursive", "r", false, "decrypt every encrypted file under a directory")
	unlockCmd.Flags().StringVar(&unlockArgs.Pattern, "pattern", "", "glob that files must match when recursive")
	unlockCmd.Flags().StringVarP(&unlockArgs.Identity, "identity", "i", "", "age identity file or ssh private key")
	unlockCmd.Flags().BoolVar(&unlockArgs.Selective, "selective", false, "skip files the identity cannot decrypt")
	unlockCmd.Flags().BoolVarP(&unlockArgs.PreserveEncrypted, "preserve-encrypted", "k", false, "keep the ciphertext after decrypting")
	unlockCmd.Flags().BoolVar(&unlockJSON, "json", false, "print the result as JSON")
	unlockSecret.bind(unlockCmd, "passphrase", "the passphrase")
	addCommonFlags(unlockCmd, &unlockArgs)
}
