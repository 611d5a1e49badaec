package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/recovery"
	"github.com/PolarWolf314/cage/internal/ui"
	"github.com/PolarWolf314/cage/internal/utils"

	"github.com/spf13/cobra"
)

var (
	backupListJSON bool
	restoreFrom    string
)

func init() {
	backupListCmd.Flags().BoolVar(&backupListJSON, "json", false, "output as JSON array")
	backupRestoreCmd.Flags().StringVar(&restoreFrom, "from", "", "restore this backup file instead of the newest one")
	backupCmd.AddCommand(backupListCmd, backupRestoreCmd)
}

func resetBackupCommandState() {
	backupListJSON = false
	restoreFrom = ""
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Lists and restores backups taken before files were replaced",
	Long: `Cage copies a file into paths.backup_dir before replacing or removing it.
Retention is controlled by behavior.retention.

Examples:
  # Every backup
  cage backup list

  # Backups of one file
  cage backup list .env

  # Put the newest backup of .env back
  cage backup restore .env`,
}

var backupListCmd = &cobra.Command{
	Use:          "list [path]",
	Short:        "Lists backups, oldest first",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting backup list command")
		manager, err := backupManager()
		if err != nil {
			fmt.Println(failureMessage("Configuration is invalid", err))
			return err
		}

		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		backups, err := manager.ListBackups(target)
		if err != nil {
			fmt.Println(ui.Error.Sprint("✗") + " Failed to list backups: " + err.Error())
			return err
		}
		Logger.Debugf("Found %d backup(s) in %s", len(backups), manager.Dir())

		if backupListJSON {
			data, err := json.MarshalIndent(backups, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal backups to JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(backups) == 0 {
			fmt.Println("No backups found in " + ui.Path.Sprint(manager.Dir()))
			return nil
		}
		for _, b := range backups {
			fmt.Printf("%s  %8s  %s\n", b.Created.Format("2006-01-02 15:04:05"), utils.HumanBytes(b.Size), ui.Path.Sprint(b.Path))
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:          "restore <path>",
	Short:        "Restores a file from its newest backup",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting backup restore command")
		spinner, cleanup := startSpinner("Restoring backup...", verbose)
		defer cleanup()

		manager, err := backupManager()
		if err != nil {
			spinner.FinalMSG = failureMessage("Configuration is invalid", err)
			return err
		}

		target, err := filepath.Abs(args[0])
		if err != nil {
			return Logger.ErrorfAndReturn("Failed to resolve %s: %v", args[0], err)
		}

		backup := recovery.Backup{Path: restoreFrom, Original: target}
		if restoreFrom == "" {
			backups, err := manager.ListBackups(target)
			if err != nil {
				spinner.FinalMSG = ui.Error.Sprint("✗") + " Failed to list backups: " + err.Error()
				return err
			}
			if len(backups) == 0 {
				spinner.FinalMSG = ui.Error.Sprint("✗") + " No backups of " + ui.Path.Sprint(args[0]) + " found\n" +
					ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("cage backup list") + " to see every backup"
				return kerrors.New(kerrors.KindRecoveryFailure, "restore", target, kerrors.StageBackup, os.ErrNotExist)
			}
			backup = backups[len(backups)-1]
		}

		Logger.Debugf("Restoring %s from %s", backup.Original, backup.Path)
		if err := manager.Restore(backup); err != nil {
			spinner.FinalMSG = ui.Error.Sprint("✗") + " Failed to restore " + ui.Path.Sprint(args[0]) + "\n" +
				ui.Error.Sprint("Error: ") + err.Error()
			return kerrors.New(kerrors.KindRecoveryFailure, "restore", target, kerrors.StageBackup, err)
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Restored " + ui.Path.Sprint(args[0]) + " from " + ui.Path.Sprint(backup.Path)
		return nil
	},
}

func backupManager() (*recovery.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return eng.Backups(), nil
}
