package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/jobfile"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/sym"
)

// RetryCmd reruns the unfinished jobs of a recorded batch
var RetryCmd = &cobra.Command{
	Use:   "retry <batch-id>",
	Short: sym.Pulse + " Retry the failed and aborted jobs of a batch",
	Long: sym.Pulse + ` retry — Retry what a batch left unfinished

Reloads the batch's job file and runs again every job that failed, was
aborted by a cancel or never started. Job indices keep referring to the
original job file, so it must still have the same jobs.

Examples:
  hubrun retry 3f6c1d2e-...
  hubrun budget --runs 5          # find recent batch ids`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	r, closeDB, err := newRunner(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := r.Budget().Store().GetRun(args[0])
	if err != nil {
		return errors.WithHint(err, "list recent batches with `hubrun budget --runs 10`")
	}
	if len(run.RetryIndices) == 0 {
		pterm.Success.Printf("Batch %s has nothing to retry\n", run.ID)
		return nil
	}
	if run.JobFile == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("batch %s was not started from a job file", run.ID),
			"retry it through the server with POST /api/batches/current/retry")
	}

	specs, err := jobfile.Load(run.JobFile)
	if err != nil {
		return errors.Wrapf(err, "failed to reload job file of batch %s", run.ID)
	}

	events, unsubscribe := r.Coordinator().Subscribe()
	defer unsubscribe()

	h, err := r.RetryRun(context.Background(), run, specs)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Retrying jobs %s of batch %s as %s\n",
		batch.FormatIndices(run.RetryIndices), shortID(run.ID), h.ID())

	verbosity, _ := cmd.Flags().GetCount("verbose")
	return followBatch(r, h, events, verbosity)
}
