// Package utils provides shared utility functions for cage.
//
// # Filesystem Utilities
//
//   - FindProjectCageRoot: walks up directories to find .cage
//   - FileExists, EnsureDir: small stat/mkdir helpers
//
// # System Utilities
//
//   - GetUsername: identifies who ran an operation (audit log)
//   - SanitizeName: normalizes names for safe embedding in backup filenames
//
// # String Utilities
//
//   - FormatPaths: formats file paths for human-readable output
//   - HumanBytes: renders byte counts
//
// # I/O and Terminal Utilities
//
//   - ReadStdin: reads a piped passphrase
//   - ReadPassphrase, ReadPassphraseFromTTY: hidden passphrase prompts
//   - IsTerminal, IsTTYAvailable: terminal detection
package utils
