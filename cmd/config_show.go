package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/PolarWolf314/cage/internal/ui"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var configShowJSON bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "output in JSON format")
	ConfigCmd.AddCommand(configShowCmd)
}

// resetConfigShowState resets the config show command's global state for testing.
func resetConfigShowState() {
	configShowJSON = false
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the active configuration",
	Long: `Displays the configuration cage would use, after discovery and
environment overrides, and checks that it is valid.

Examples:
  cage config show
  cage config show --json
  cage --config ./ci.toml config show`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config show command")

		cfg, err := loadConfigUnvalidated()
		if err != nil {
			fmt.Println(failureMessage("Failed to load configuration", err))
			return err
		}
		validationErr := cfg.Validate()

		if configShowJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(cfg); err != nil {
				return err
			}
			return validationErr
		}

		source := cfg.Source()
		if source == "" {
			source = "built-in defaults"
		}
		fmt.Println(ui.Muted.Sprint("# source: " + source))
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			return err
		}

		fmt.Println()
		if validationErr != nil {
			fmt.Println(failureMessage("Configuration is invalid", validationErr))
			return validationErr
		}
		fmt.Println(ui.Success.Sprint("✓") + " Configuration is valid")
		return nil
	},
}
