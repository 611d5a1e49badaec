package cmd

import (
	"os"
	"path/filepath"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/ui"
	"github.com/PolarWolf314/cage/internal/utils"

	"github.com/spf13/cobra"
)

var (
	configInitProject bool
	configInitForce   bool
	configInitBackend string
	configInitLevel   string
)

func init() {
	configInitCmd.Flags().BoolVarP(&configInitProject, "project", "p", false, "write .cage/config.toml in the current directory")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing configuration file")
	configInitCmd.Flags().StringVar(&configInitBackend, "backend-binary", "", "pin the encryption backend executable")
	configInitCmd.Flags().StringVar(&configInitLevel, "security-level", "", "strict, standard or permissive")
	ConfigCmd.AddCommand(configInitCmd)
}

// resetConfigInitState resets the config init command's global state for testing.
func resetConfigInitState() {
	configInitProject = false
	configInitForce = false
	configInitBackend = ""
	configInitLevel = ""
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes the built-in defaults to the user configuration file, or with
--project to .cage/config.toml in the current directory. The configuration
is validated first, so the encryption backend must be installed.

Examples:
  cage config init
  cage config init --project --security-level strict
  cage config init --backend-binary /opt/age/bin/age`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config init command")
		spinner, cleanup := startSpinner("Writing configuration...", verbose)
		defer cleanup()

		path := configs.DefaultUserConfigPath()
		if configInitProject {
			wd, err := os.Getwd()
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to get working directory: %v", err)
			}
			path = configs.ProjectConfigPath(wd)
		}
		if path == "" {
			err := kerrors.Configuration("", os.ErrNotExist)
			spinner.FinalMSG = failureMessage("No user configuration directory is available", err)
			return err
		}
		Logger.Debugf("Configuration path: %s", path)

		if utils.FileExists(path) && !configInitForce {
			spinner.FinalMSG = ui.Warning.Sprint("⚠") + " " + ui.Path.Sprint(path) + " already exists\n" +
				ui.Info.Sprint("→") + " Use " + ui.Flag.Sprint("--force") + " to overwrite it"
			return nil
		}

		cfg := configs.Default()
		if configInitBackend != "" {
			abs, err := filepath.Abs(configInitBackend)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to resolve %s: %v", configInitBackend, err)
			}
			cfg.Paths.BackendBinary = abs
		}
		if configInitLevel != "" {
			cfg.Security.Level = configs.SecurityLevel(configInitLevel)
		}

		if err := cfg.Validate(); err != nil {
			spinner.FinalMSG = failureMessage("Default configuration is not usable here", err)
			return err
		}
		if err := cfg.SaveToPath(path); err != nil {
			spinner.FinalMSG = failureMessage("Failed to write configuration", err)
			return err
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Wrote " + ui.Path.Sprint(path)
		return nil
	},
}
