package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/PolarWolf314/cage/internal/engine"
	"github.com/PolarWolf314/cage/internal/ui"

	"github.com/spf13/cobra"
)

var (
	doctorJSONOutput bool
	// doctorExitFunc is the function called to exit with a specific code.
	// Can be overridden for testing.
	doctorExitFunc = os.Exit
)

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSONOutput, "json", false, "output in JSON format")
}

func resetDoctorCommandState() {
	doctorJSONOutput = false
	doctorExitFunc = os.Exit
}

// SetDoctorExitFunc sets the exit function for testing purposes.
func SetDoctorExitFunc(f func(int)) {
	doctorExitFunc = f
}

// doctorOutput is the JSON form of the doctor report.
type doctorOutput struct {
	*engine.HealthReport
	Adapter engine.AdapterInfo `json:"adapter"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on the cage setup",
	Long: `Runs a series of health checks and reports issues.

The doctor command checks:
  - Configuration validity
  - Encryption backend availability and version
  - TTY automation for passphrase prompts
  - Backup directory writability and free space
  - Audit log writability

Exit codes:
  0 - All checks passed
  1 - Warnings found (non-critical issues)
  2 - Errors found (critical issues)

Use --json for machine-readable output.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting doctor command")

	spinner, cleanup := startSpinner("Running health checks...", verbose)
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		spinner.FinalMSG = failureMessage("Configuration is invalid", err)
		doctorExitFunc(2)
		return nil
	}
	eng, err := newEngine(cfg)
	if err != nil {
		spinner.FinalMSG = failureMessage("Failed to start", err)
		doctorExitFunc(2)
		return nil
	}

	report := eng.HealthCheck(context.Background())
	for _, check := range report.Checks {
		Logger.Debugf("Check %s: status=%s, message=%s", check.Name, check.Status.String(), check.Message)
	}

	spinner.FinalMSG = ""
	if doctorJSONOutput {
		if err := outputDoctorJSON(doctorOutput{HealthReport: report, Adapter: eng.AdapterInfo()}); err != nil {
			return err
		}
	} else {
		printDoctorResults(report, eng.AdapterInfo())
		switch report.Status {
		case engine.Unhealthy:
			spinner.FinalMSG = ui.Error.Sprint("✗") + " Health checks completed with errors"
		case engine.Degraded:
			spinner.FinalMSG = ui.Warning.Sprint("⚠") + " Health checks completed with warnings"
		default:
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Health checks completed"
		}
	}

	// Set exit code based on results.
	if report.Summary.Errors > 0 {
		doctorExitFunc(2)
	} else if report.Summary.Warnings > 0 {
		doctorExitFunc(1)
	}
	return nil
}

func outputDoctorJSON(out doctorOutput) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func printDoctorResults(report *engine.HealthReport, info engine.AdapterInfo) {
	fmt.Println("Running health checks...")
	fmt.Println()

	for _, check := range report.Checks {
		var statusIcon string
		switch check.Status {
		case engine.CheckPass:
			statusIcon = ui.Success.Sprint("✓")
		case engine.CheckWarning:
			statusIcon = ui.Warning.Sprint("⚠")
		case engine.CheckError:
			statusIcon = ui.Error.Sprint("✗")
		}
		fmt.Printf("%s %s: %s\n", statusIcon, check.Name, check.Message)
	}

	fmt.Println()
	fmt.Printf("Backend:   %s %s\n", ui.Highlight.Sprint(info.Backend), ui.Muted.Sprint(info.BackendPath))
	fmt.Printf("TTY:       %s (configured %s)\n", info.TTYActive, info.TTYConfigured)
	fmt.Printf("Security:  %s, risk threshold %s\n", info.SecurityLevel, info.RiskThreshold)
	if info.ConfigSource != "" {
		fmt.Printf("Config:    %s\n", ui.Path.Sprint(info.ConfigSource))
	}

	fmt.Println()
	fmt.Printf("Summary: %d passed", report.Summary.Passed)
	if report.Summary.Warnings > 0 {
		fmt.Printf(", %s", ui.Warning.Sprint(fmt.Sprintf("%d warning(s)", report.Summary.Warnings)))
	}
	if report.Summary.Errors > 0 {
		fmt.Printf(", %s", ui.Error.Sprint(fmt.Sprintf("%d error(s)", report.Summary.Errors)))
	}
	fmt.Println()

	if len(report.Suggestions) > 0 {
		fmt.Println()
		fmt.Println("Suggestions:")
		for _, suggestion := range report.Suggestions {
			fmt.Printf("  %s %s\n", ui.Info.Sprint("→"), suggestion)
		}
	}
}
