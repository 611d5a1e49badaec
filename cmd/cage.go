package cmd

import (
	logger "github.com/PolarWolf314/cage/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	verbose    bool
	debug      bool
	configPath string
	Logger     logger.Logger

	// Commands lists every top-level cage command in help order.
	Commands = []*cobra.Command{
		lockCmd,
		unlockCmd,
		rotateCmd,
		verifyCmd,
		statusCmd,
		batchCmd,
		logCmd,
		backupCmd,
		doctorCmd,
		ConfigCmd,
	}
)

// AddCommands registers the global flags and every cage command on root.
func AddCommands(root *cobra.Command) {
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "use this config file instead of discovery")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		Logger = logger.Logger{
			Verbose: verbose,
			Debug:   debug,
		}
		Logger.Debugf("Running %s with verbose=%t, debug=%t, config=%q", cmd.CommandPath(), verbose, debug, configPath)
	}

	root.AddCommand(Commands...)
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	configPath = ""
	Logger = logger.Logger{}
	resetOperationState()
	resetBatchCommandState()
	resetLogCommandState()
	resetBackupCommandState()
	resetDoctorCommandState()
	resetConfigState()
	for _, c := range Commands {
		resetCobraFlagState(c)
	}
}

// resetCobraFlagState clears Changed on every flag of c and its children.
func resetCobraFlagState(c *cobra.Command) {
	c.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Changed = false
	})
	for _, child := range c.Commands() {
		resetCobraFlagState(child)
	}
}
