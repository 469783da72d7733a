package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/cmd/hubrun/commands"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hubrun",
	Short: "hubrun - batch job runner for the remote task hub",
	Long: `hubrun - run batches of jobs against the remote task hub.

Each job of a job file is uploaded, submitted and polled on a pool of
credentials, with live progress, cancellation and retry of whatever did
not complete.

Available commands:
  run     - Run every job of a job file
  retry   - Rerun the failed and aborted jobs of a recorded batch
  balance - Show the credit balance of each credential
  budget  - Show credit consumption and hub call statistics
  am      - Manage hubrun configuration ("I am")
  serve   - Serve the batch engine over HTTP and websocket
  version - Show version information

Examples:
  hubrun run jobs.yaml            # Run a batch with live progress
  hubrun retry <batch-id>         # Retry what a batch left unfinished
  hubrun am cred add main --key sk-...
  hubrun serve                    # HTTP API on 127.0.0.1:8787`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.RetryCmd)
	rootCmd.AddCommand(commands.BalanceCmd)
	rootCmd.AddCommand(commands.BudgetCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		os.Exit(commands.ExitCode(err))
	}
}
