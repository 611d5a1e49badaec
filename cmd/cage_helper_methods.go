package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/PolarWolf314/cage/internal/configs"
	"github.com/PolarWolf314/cage/internal/engine"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/requests"
	"github.com/PolarWolf314/cage/internal/ui"
	"github.com/PolarWolf314/cage/internal/utils"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// IMPORTANT: spinner.FinalMSG values do NOT need trailing newlines. The cleanup function
// automatically calls ui.EnsureNewline() on the final message before printing it.
func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if quiet {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			// Clear FinalMSG so s.Stop() doesn't print it.
			s.FinalMSG = ""
		}

		if quiet {
			s.Stop()
		}

		// Print final message to stdout (for tests to capture).
		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// loadConfig loads the --config file, or runs discovery, and validates the result.
func loadConfig() (*configs.Config, error) {
	cfg, err := loadConfigUnvalidated()
	if err != nil {
		return nil, err
	}
	Logger.Debugf("Validating configuration from %q", cfg.Source())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigUnvalidated() (*configs.Config, error) {
	if configPath != "" {
		Logger.Debugf("Loading configuration from %s", configPath)
		return configs.LoadFromPath(configPath)
	}
	Logger.Debugf("Discovering configuration")
	return configs.LoadDefault()
}

func newEngine(cfg *configs.Config) (*engine.Engine, error) {
	return engine.New(cfg, engine.WithLogger(Logger))
}

// interruptContext is cancelled on Ctrl-C so in-flight operations roll back.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// addCommonFlags binds the flags every mutating operation accepts.
func addCommonFlags(cmd *cobra.Command, args *requests.Args) {
	cmd.Flags().BoolVarP(&args.Force, "force", "f", false, "overwrite existing output files")
	cmd.Flags().BoolVar(&args.NoBackup, "no-backup", false, "do not back up files before replacing or removing them")
	cmd.Flags().BoolVar(&args.NoAudit, "no-audit", false, "do not record this operation in the audit log")
	cmd.Flags().BoolVarP(&args.DryRun, "dry-run", "n", false, "validate and list planned changes without touching files")
	cmd.Flags().DurationVar(&args.Timeout, "timeout", 0, "per-operation timeout (default performance.operation_timeout)")
}

// secretFlags selects where a passphrase comes from.
type secretFlags struct {
	prompt bool
	stdin  bool
	env    string
}

func (s *secretFlags) bind(cmd *cobra.Command, name, usage string) {
	cmd.Flags().BoolVar(&s.prompt, name, false, "prompt for "+usage)
	cmd.Flags().BoolVar(&s.stdin, name+"-stdin", false, "read "+usage+" from stdin")
	cmd.Flags().StringVar(&s.env, name+"-env", "", "read "+usage+" from this environment variable")
}

func (s secretFlags) set() bool {
	return s.prompt || s.stdin || s.env != ""
}

// resolve returns the passphrase, or "" when none was requested. With
// confirm the prompt is shown twice and both entries must match.
func (s secretFlags) resolve(prompt string, confirm bool) (string, error) {
	switch {
	case s.env != "":
		value, ok := os.LookupEnv(s.env)
		if !ok || value == "" {
			return "", fmt.Errorf("environment variable %s is not set", s.env)
		}
		return value, nil
	case s.stdin:
		data, err := utils.ReadStdin()
		if err != nil {
			return "", err
		}
		return string(data), nil
	case s.prompt:
		first, err := readSecret(prompt)
		if err != nil {
			return "", err
		}
		if confirm {
			second, err := readSecret("Confirm " + strings.ToLower(prompt[:1]) + prompt[1:])
			if err != nil {
				return "", err
			}
			if first != second {
				return "", fmt.Errorf("passphrases do not match")
			}
		}
		return first, nil
	}
	return "", nil
}

func readSecret(prompt string) (string, error) {
	read := utils.ReadPassphrase
	if !utils.IsTerminal() {
		if !utils.IsTTYAvailable() {
			return "", fmt.Errorf("no terminal to prompt on; use --passphrase-stdin or --passphrase-env")
		}
		read = utils.ReadPassphraseFromTTY
	}
	secret, err := read(prompt + ": ")
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// runOperation builds a request from args, runs it and prints the result.
func runOperation(kind requests.OperationKind, args requests.Args, message string, jsonOutput bool) error {
	Logger.Infof("Starting %s command", kind)
	spinner, cleanup := startSpinner(message, verbose)
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		spinner.FinalMSG = failureMessage("Configuration is invalid", err)
		return err
	}

	if jsonOutput {
		args.Report = string(requests.ReportJSON)
	}
	req, err := requests.FromArgs(kind, args, cfg)
	if err != nil {
		spinner.FinalMSG = failureMessage("Invalid "+string(kind)+" request", err)
		return err
	}
	Logger.Debugf("Built %s request for %s", kind, strings.Join(req.Targets(), ", "))

	eng, err := newEngine(cfg)
	if err != nil {
		spinner.FinalMSG = failureMessage("Failed to start", err)
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	res, err := eng.Execute(ctx, req)
	if jsonOutput {
		spinner.FinalMSG = renderJSON(res, err)
	} else {
		spinner.FinalMSG = renderResult(kind, res, err)
	}
	return err
}

// jsonReport is the machine-readable form of an operation's outcome.
type jsonReport struct {
	*engine.Result
	Error string `json:"error,omitempty"`
	Kind  string `json:"error_kind,omitempty"`
}

func renderJSON(res *engine.Result, err error) string {
	report := jsonReport{Result: res}
	if err != nil {
		report.Error = err.Error()
		report.Kind = string(kerrors.KindOf(err))
	}
	data, marshalErr := json.MarshalIndent(report, "", "  ")
	if marshalErr != nil {
		return failureMessage("Failed to encode result", marshalErr)
	}
	return string(data)
}

var pastTense = map[requests.OperationKind]string{
	requests.OpLock:   "Locked",
	requests.OpUnlock: "Unlocked",
	requests.OpRotate: "Rotated",
	requests.OpVerify: "Verified",
	requests.OpStatus: "Checked",
	requests.OpBatch:  "Processed",
}

// renderResult formats a result for humans. Per-file lines come first,
// then the summary and, on failure, the error and a hint.
func renderResult(kind requests.OperationKind, res *engine.Result, err error) string {
	var b strings.Builder

	if res != nil {
		for _, o := range res.Batch {
			fmt.Fprintf(&b, "  %s %s %s", ui.Outcome(o.Status), o.Operation, strings.Join(o.Targets, ", "))
			if o.Attempts > 1 {
				b.WriteString(" " + ui.Muted.Sprintf("%d attempts", o.Attempts))
			}
			b.WriteString("\n")
		}
		var backups []string
		for _, f := range res.Files {
			b.WriteString(renderFile(f))
			if f.Backup != "" {
				backups = append(backups, f.Backup)
			}
		}
		if len(backups) > 0 {
			b.WriteString(ui.Info.Sprint("→") + " Backups kept:" + utils.FormatPaths(backups))
		}
		for _, w := range res.Warnings {
			b.WriteString(ui.Warning.Sprint("⚠") + " " + w + "\n")
		}
		if last := res.LastOperation; last != nil {
			fmt.Fprintf(&b, "%s Last operation: %s %s %s %s\n", ui.Info.Sprint("→"),
				last.Operation, ui.Path.Sprint(last.Target), ui.Outcome(last.Outcome), ui.Muted.Sprint(last.Timestamp))
		}
	}

	if err != nil {
		b.WriteString(failureMessage(string(kind)+" failed", err))
		return b.String()
	}

	verb := pastTense[kind]
	switch {
	case res == nil:
		b.WriteString(ui.Success.Sprint("✓") + " Done")
	case res.DryRun:
		b.WriteString(ui.Warning.Sprint("⚠") + fmt.Sprintf(" Dry run: %d file(s) would be %s", len(res.Files), strings.ToLower(verb)))
	default:
		b.WriteString(ui.Success.Sprint("✓") + fmt.Sprintf(" %s %d file(s)", verb, len(res.Files)))
		if res.Backend != "" {
			b.WriteString(" with " + ui.Highlight.Sprint(res.Backend))
		}
		b.WriteString(" " + ui.Muted.Sprintf("%s in %s", utils.HumanBytes(res.BytesProcessed), res.Elapsed.Round(time.Millisecond)))
	}
	return b.String()
}

func renderFile(f engine.FileResult) string {
	icon := ui.Success.Sprint("✓")
	switch f.Status {
	case engine.StatusFailed, engine.StatusInvalid:
		icon = ui.Error.Sprint("✗")
	case engine.StatusPlanned, engine.StatusPlaintext:
		icon = ui.Warning.Sprint("•")
	case engine.StatusEncrypted:
		icon = ui.Success.Sprint("🔒")
	}

	line := "  " + icon + " " + ui.Path.Sprint(f.Path)
	if f.Output != "" && f.Output != f.Path {
		line += " " + ui.Info.Sprint("→") + " " + ui.Path.Sprint(f.Output)
	}
	line += " " + ui.Muted.Sprint(f.Status)
	if f.Error != "" {
		line += "\n      " + ui.Error.Sprint(f.Error)
	}
	return line + "\n"
}

// failureMessage renders err with a hint matching its kind.
func failureMessage(title string, err error) string {
	msg := ui.Error.Sprint("✗") + " " + title + "\n" + ui.Error.Sprint("Error: ") + err.Error()
	if hint := hintFor(err); hint != "" {
		msg += "\n" + ui.Info.Sprint("→") + " " + hint
	}
	return msg
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, kerrors.ErrOutputExists):
		return "Use " + ui.Flag.Sprint("--force") + " to overwrite the existing output"
	case errors.Is(err, kerrors.ErrRiskThresholdExceeded):
		return "Keep backups enabled or raise " + ui.Code.Sprint("security.risk_threshold")
	case errors.Is(err, kerrors.ErrNoFilesFound):
		return "Check the path, or use " + ui.Flag.Sprint("--recursive") + " with a matching " + ui.Flag.Sprint("--pattern")
	case errors.Is(err, kerrors.ErrConfiguration):
		return "Run " + ui.Code.Sprint("cage doctor") + " to check your setup"
	case errors.Is(err, kerrors.ErrTimeout):
		return "Increase " + ui.Flag.Sprint("--timeout") + " or " + ui.Code.Sprint("performance.operation_timeout")
	case errors.Is(err, kerrors.ErrRecoveryFailure):
		return "Run " + ui.Code.Sprint("cage backup list") + " to find the copy taken before the operation"
	}
	return ""
}

// ExitCode maps an error to the process exit status: 2 for configuration
// and request problems, 1 for everything else.
func ExitCode(err error) int {
	switch kerrors.KindOf(err) {
	case kerrors.KindConfiguration, kerrors.KindRequestValidation:
		return 2
	}
	if err != nil {
		return 1
	}
	return 0
}
