package cmd

import (
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/spf13/cobra"
)

var (
	batchArgs requests.Args
	batchJSON bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.toml>",
	Short: "Runs the operations listed in a manifest",
	Long: `Runs lock, unlock and rotate operations from a TOML manifest, up to
performance.parallel_batch_size at a time. Entries marked retryable are
retried on transient failures.

Passphrases never appear in a manifest. Name an environment variable with
passphrase_env or new_passphrase_env instead.

Manifest format:
  stop_on_error = true

  [[operation]]
  kind = "lock"
  input = "config/.env"
  groups = ["ops"]

  [[operation]]
  kind = "rotate"
  paths = ["secrets/db.age"]
  identity = "old-key.txt"
  new_recipients = ["age1..."]
  retryable = true

Examples:
  cage batch release.toml
  cage batch release.toml --dry-run`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting batch command")
		spinner, cleanup := startSpinner("Running batch...", verbose)
		defer cleanup()

		cfg, err := loadConfig()
		if err != nil {
			spinner.FinalMSG = failureMessage("Configuration is invalid", err)
			return err
		}

		opts := requests.DefaultOptions()
		opts.Force = batchArgs.Force
		opts.Backup = !batchArgs.NoBackup
		opts.Audit = !batchArgs.NoAudit
		opts.DryRun = batchArgs.DryRun
		opts.Timeout = batchArgs.Timeout

		Logger.Debugf("Loading manifest %s", args[0])
		req, err := requests.LoadManifest(args[0], cfg, opts)
		if err != nil {
			spinner.FinalMSG = failureMessage("Invalid batch manifest", err)
			return err
		}
		Logger.Debugf("Manifest has %d operation(s)", len(req.Entries))

		eng, err := newEngine(cfg)
		if err != nil {
			spinner.FinalMSG = failureMessage("Failed to start", err)
			return err
		}

		ctx, stop := interruptContext()
		defer stop()

		res, err := eng.Batch(ctx, req)
		if batchJSON {
			spinner.FinalMSG = renderJSON(res, err)
		} else {
			spinner.FinalMSG = renderResult(requests.OpBatch, res, err)
		}
		return err
	},
}

func init() {
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print the result as JSON")
	addCommonFlags(batchCmd, &batchArgs)
}

func resetBatchCommandState() {
	batchArgs = requests.Args{}
	batchJSON = false
}
