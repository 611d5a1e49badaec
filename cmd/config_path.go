package cmd

import (
	"fmt"

	"github.com/PolarWolf314/cage/internal/configs"
	"github.com/PolarWolf314/cage/internal/ui"
	"github.com/PolarWolf314/cage/internal/utils"

	"github.com/spf13/cobra"
)

func init() {
	ConfigCmd.AddCommand(configPathCmd)
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where configuration is searched for",
	Long: `Lists the configuration search path in discovery order and marks the
file in use. The first existing file wins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config path command")

		if configPath != "" {
			fmt.Println(ui.Success.Sprint("→") + " " + ui.Path.Sprint(configPath) + " " + ui.Muted.Sprint("--config"))
			return nil
		}

		loader := &configs.Loader{}
		active := loader.Discover()
		for _, path := range configs.DefaultSearchPaths() {
			switch {
			case path == active:
				fmt.Println(ui.Success.Sprint("→") + " " + ui.Path.Sprint(path) + " " + ui.Muted.Sprint("active"))
			case utils.FileExists(path):
				fmt.Println("  " + ui.Path.Sprint(path) + " " + ui.Muted.Sprint("shadowed"))
			default:
				fmt.Println("  " + ui.Path.Sprint(path))
			}
		}
		if active == "" {
			fmt.Println(ui.Info.Sprint("ℹ") + " No configuration file found, using built-in defaults")
		}
		return nil
	},
}
