package cmd

import (
	"github.com/spf13/cobra"
)

// ConfigCmd is the top-level config command.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cage configuration",
	Long: `Provides commands for inspecting and editing cage configuration.

Configuration is read from the first file found in this order:
  $CAGE_CONFIG, ./cage.toml, <project>/.cage/config.toml,
  the user config file, ~/.cage.toml
CAGE_* environment variables override file values.

Examples:
  # Write a default user configuration
  cage config init

  # Show the active configuration
  cage config show

  # Show where configuration is searched for
  cage config path

  # Add a recipient group
  cage config group add ops --tier elevated --recipient age1...`,
}

// GetConfigCmd returns the ConfigCmd for testing.
func GetConfigCmd() *cobra.Command {
	return ConfigCmd
}

// resetConfigState resets all config command global variables to their default values for testing.
func resetConfigState() {
	resetConfigShowState()
	resetConfigInitState()
	resetConfigGroupState()
}
