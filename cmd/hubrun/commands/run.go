package commands

import (
	"context"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/jobfile"
	"github.com/teranos/hubrun/sym"
)

// RunCmd runs every job of a job file
var RunCmd = &cobra.Command{
	Use:   "run <jobfile>",
	Short: sym.Pulse + " Run every job of a job file",
	Long: sym.Pulse + ` run — Run a batch of jobs

Loads a YAML, TOML or JSON job file and runs each job on the configured
credentials. Each credential runs as many jobs at once as its concurrency.
Successful outputs are downloaded to output.dir.

Ctrl+C cancels the batch: jobs in flight are reported as aborted and can
be retried with ` + "`hubrun retry <batch-id>`" + `.

Examples:
  hubrun run jobs.yaml
  hubrun run jobs.toml --output-dir ./renders
  hubrun run jobs.json --no-download`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runOutputDir  string
	runNoDownload bool
)

func init() {
	RunCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "Directory for downloaded outputs (overrides output.dir)")
	RunCmd.Flags().BoolVar(&runNoDownload, "no-download", false, "Do not download outputs")
}

func runRun(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid job file path %s", args[0])
	}
	specs, err := jobfile.Load(path)
	if err != nil {
		return err
	}

	r, closeDB, err := newRunner(func(cfg *am.Config) {
		if runOutputDir != "" {
			cfg.Output.Dir = runOutputDir
		}
		if runNoDownload {
			cfg.Output.Download = false
		}
	})
	if err != nil {
		return err
	}
	defer closeDB()

	// Subscribe before starting so no event is missed
	events, unsubscribe := r.Coordinator().Subscribe()
	defer unsubscribe()

	h, err := r.Start(context.Background(), specs, path)
	if err != nil {
		return err
	}

	pterm.Info.Printf("Started batch %s: %d jobs from %s\n", h.ID(), len(specs), filepath.Base(path))
	if dir := r.OutputDir(); dir != "" {
		pterm.Info.Printf("Outputs go to %s\n", dir)
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	return followBatch(r, h, events, verbosity)
}
