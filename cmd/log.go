package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/PolarWolf314/cage/internal/audit"
	"github.com/PolarWolf314/cage/internal/ui"

	"github.com/spf13/cobra"
)

var (
	logLimit     int
	logReverse   bool
	logOperation string
	logOutcome   string
	logJSON      bool
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logReverse, "reverse", false, "show most recent entries first")
	logCmd.Flags().StringVar(&logOperation, "operation", "", "filter by operation (lock, unlock, rotate, verify, status, batch)")
	logCmd.Flags().StringVar(&logOutcome, "outcome", "", "filter by outcome (ok, failed, dry-run, partial)")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

// resetLogCommandState resets the log command's global state for testing.
func resetLogCommandState() {
	logLimit = 0
	logReverse = false
	logOperation = ""
	logOutcome = ""
	logJSON = false
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the audit log",
	Long: `Displays the audit log at paths.audit_log. Every operation writes one
entry, whether it succeeded or not. Text and JSON logs are both read.

Examples:
  cage log                      # View full log
  cage log -n 10                # Last 10 entries
  cage log --reverse            # Most recent first
  cage log --operation rotate   # Filter by operation
  cage log --outcome failed     # Only failures
  cage log --json               # JSON output`,
	RunE: runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting log command")

	spinner, cleanup := startSpinner("Loading audit log...", verbose)
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		spinner.FinalMSG = failureMessage("Configuration is invalid", err)
		return err
	}
	if cfg.Paths.AuditLog == "" {
		spinner.FinalMSG = ui.Info.Sprint("ℹ") + " Auditing is disabled. Set " + ui.Code.Sprint("paths.audit_log") + " to enable it."
		return nil
	}

	entries, err := audit.ReadEntries(cfg.Paths.AuditLog)
	if err != nil {
		spinner.FinalMSG = ui.Error.Sprint("✗") + " Failed to read audit log: " + err.Error()
		return err
	}
	Logger.Debugf("Parsed %d entries from %s", len(entries), cfg.Paths.AuditLog)

	total := len(entries)
	entries = audit.Filter(entries, logOperation, logOutcome)
	Logger.Debugf("After filtering: %d entries", len(entries))

	if logLimit > 0 && len(entries) > logLimit {
		entries = entries[len(entries)-logLimit:]
	}
	if logReverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	spinner.FinalMSG = ""
	if len(entries) == 0 {
		if total == 0 {
			fmt.Println("No audit log entries found.")
		} else {
			fmt.Println("No audit log entries found matching the filters.")
		}
		return nil
	}

	if logJSON {
		return outputLogJSON(entries)
	}
	outputLogDefault(entries)
	return nil
}

func outputLogJSON(entries []audit.Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entries to JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputLogDefault(entries []audit.Entry) {
	for _, e := range entries {
		details := fmt.Sprintf("%d file(s)", e.Files)
		if e.Error != "" {
			details = e.Error
		}
		fmt.Printf("%-27s  %-12s  %-7s  %-8s  %s  %s\n",
			e.Timestamp, e.User, e.Operation, ui.Outcome(e.Outcome), e.Target, ui.Muted.Sprint(details))
	}
}
