// Package runner wires the batch engine to hubrun's configuration, the hub
// client, the output downloader and the sqlite ledger. The CLI and the
// server both drive batches through a Runner.
package runner

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/hubrun/ai/hub"
	"github.com/teranos/hubrun/ai/tracker"
	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/output"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/pulse/budget"
	"github.com/teranos/hubrun/sym"
)

// Runner owns one Coordinator. The hub endpoint and engine timings are fixed
// at construction; credentials and budget limits follow UpdateConfig and
// apply from the next batch on.
type Runner struct {
	coordinator *batch.Coordinator
	client      batch.TaskClient
	budget      *budget.Tracker
	usage       *tracker.UsageTracker
	downloader  *output.Downloader
	log         *zap.SugaredLogger

	mu       sync.RWMutex
	cfg      *am.Config
	jobFiles map[string]string // batch id -> job file, for run history
	recorded map[string]bool
}

// Option configures a Runner
type Option func(*options)

type options struct {
	client batch.TaskClient
	logger *zap.SugaredLogger
}

// WithTaskClient replaces the hub client (tests use a scripted one)
func WithTaskClient(client batch.TaskClient) Option {
	return func(o *options) { o.client = client }
}

// WithLogger replaces the default "runner" component logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = log }
}

// New builds a Runner from cfg. db holds the ledger and call tracking.
func New(cfg *am.Config, db *sql.DB, opts ...Option) (*Runner, error) {
	if db == nil {
		return nil, errors.New("runner requires a database")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = logger.ComponentLogger("runner")
	}

	client := o.client
	if client == nil {
		client = hub.NewClient(hub.Config{
			BaseURL:         cfg.Hub.BaseURL,
			Timeout:         cfg.Hub.RequestTimeout(),
			AllowPrivateIPs: cfg.Hub.AllowPrivateIPs,
			Logger:          log.Named("hub"),
			DB:              db,
		})
	}

	r := &Runner{
		client:   client,
		budget:   budget.NewTracker(db, budgetConfig(cfg)),
		usage:    tracker.NewUsageTracker(db),
		log:      log,
		cfg:      cfg,
		jobFiles: make(map[string]string),
		recorded: make(map[string]bool),
	}

	copts := []batch.Option{
		batch.WithBudgetGuard(r.budget),
		batch.WithLogger(log.Named("batch")),
	}
	if cfg.Output.Download {
		d, err := output.NewDownloader(output.Config{
			Dir:             am.ExpandPath(cfg.Output.Dir),
			AllowPrivateIPs: cfg.Hub.AllowPrivateIPs,
			Logger:          log.Named("output"),
		})
		if err != nil {
			return nil, err
		}
		r.downloader = d
		copts = append(copts, batch.WithOutputSink(d))
	}

	r.coordinator = batch.NewCoordinator(client, EngineConfig(cfg), copts...)
	return r, nil
}

// EngineConfig maps the [pulse] section onto the engine's Config
func EngineConfig(cfg *am.Config) batch.Config {
	return batch.Config{
		PollInterval:     cfg.Pulse.PollInterval(),
		JobPause:         cfg.Pulse.JobPause(),
		BalanceTimeout:   cfg.Pulse.BalanceTimeout(),
		SubmitsPerMinute: cfg.Pulse.SubmitsPerMinute,
		CostPerJob:       cfg.Pulse.CostPerJobCredits,
	}
}

func budgetConfig(cfg *am.Config) budget.BudgetConfig {
	return budget.BudgetConfig{
		DailyBudgetCredits:   cfg.Pulse.DailyBudgetCredits,
		WeeklyBudgetCredits:  cfg.Pulse.WeeklyBudgetCredits,
		MonthlyBudgetCredits: cfg.Pulse.MonthlyBudgetCredits,
		CostPerJobCredits:    cfg.Pulse.CostPerJobCredits,
	}
}

// Credentials converts the configured pool for the engine
func Credentials(cfg *am.Config) ([]batch.Credential, error) {
	configured := cfg.EffectiveCredentials()
	if len(configured) == 0 {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("no credentials configured"),
			"add one with `hubrun am cred add <id> <api-key>` or set HUBRUN_API_KEY")
	}
	creds := make([]batch.Credential, len(configured))
	for i, c := range configured {
		creds[i] = batch.Credential{ID: c.ID, APIKey: c.APIKey, Concurrency: c.Concurrency}
	}
	return creds, nil
}

// Coordinator exposes the engine for progress, events and cancellation
func (r *Runner) Coordinator() *batch.Coordinator { return r.coordinator }

// Budget exposes the budget tracker
func (r *Runner) Budget() *budget.Tracker { return r.budget }

// Usage exposes hub call statistics
func (r *Runner) Usage() *tracker.UsageTracker { return r.usage }

// OutputDir is where outputs are saved, "" when downloads are off
func (r *Runner) OutputDir() string {
	if r.downloader == nil {
		return ""
	}
	return r.downloader.Dir()
}

// Config returns the configuration currently in effect
func (r *Runner) Config() *am.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// UpdateConfig swaps in a reloaded configuration. A batch already running
// keeps the credentials it started with.
func (r *Runner) UpdateConfig(cfg *am.Config) error {
	if err := r.budget.UpdateLimits(budgetConfig(cfg)); err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	r.log.Infow("Configuration reloaded",
		logger.FieldCount, len(cfg.EffectiveCredentials()),
		logger.FieldSymbol, sym.AM)
	return nil
}

// Start runs specs on the configured credentials. jobFile is remembered
// for run history and may be empty.
func (r *Runner) Start(ctx context.Context, specs []batch.JobSpec, jobFile string) (*batch.Handle, error) {
	creds, err := Credentials(r.Config())
	if err != nil {
		return nil, err
	}
	h, err := r.coordinator.Start(ctx, specs, creds)
	if err != nil {
		return nil, err
	}
	r.remember(h, jobFile)
	return h, nil
}

// Retry reruns indices of the last batch this runner started. Nil indices
// mean every job the last batch did not complete.
func (r *Runner) Retry(ctx context.Context, indices []int) (*batch.Handle, error) {
	if indices == nil {
		indices = r.coordinator.LastRetryIndices()
	}
	var jobFile string
	if prev := r.coordinator.Current(); prev != nil {
		r.mu.RLock()
		jobFile = r.jobFiles[prev.ID()]
		r.mu.RUnlock()
	}

	h, err := r.coordinator.RetrySubset(ctx, indices)
	if err != nil {
		return nil, err
	}
	r.remember(h, jobFile)
	return h, nil
}

// RetryRun reruns the unfinished jobs of a recorded run. specs must be the
// run's job file, reloaded by the caller.
func (r *Runner) RetryRun(ctx context.Context, run *budget.RunRecord, specs []batch.JobSpec) (*batch.Handle, error) {
	if len(specs) != run.Total {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("job file %s now has %d jobs, run %s had %d", run.JobFile, len(specs), run.ID, run.Total),
			"indices refer to the original job list; restore the file or start a new batch")
	}
	creds, err := Credentials(r.Config())
	if err != nil {
		return nil, err
	}
	h, err := r.coordinator.StartSubset(ctx, specs, run.RetryIndices, creds)
	if err != nil {
		return nil, err
	}
	r.remember(h, run.JobFile)
	return h, nil
}

func (r *Runner) remember(h *batch.Handle, jobFile string) {
	r.mu.Lock()
	r.jobFiles[h.ID()] = jobFile
	r.mu.Unlock()
}

// Record writes a finished batch into the credit ledger and run history.
// Recording the same batch twice is a no-op.
func (r *Runner) Record(summary batch.BatchSummary) error {
	r.mu.Lock()
	if r.recorded[summary.BatchID] {
		r.mu.Unlock()
		return nil
	}
	r.recorded[summary.BatchID] = true
	jobFile := r.jobFiles[summary.BatchID]
	delete(r.jobFiles, summary.BatchID)
	r.mu.Unlock()

	store := r.budget.Store()
	if err := store.RecordConsumption(summary.BatchID, summary.Consumption); err != nil {
		return err
	}

	run := budget.RunRecord{
		ID:           summary.BatchID,
		JobFile:      jobFile,
		State:        string(summary.State),
		Total:        summary.Total,
		Completed:    summary.Completed,
		Failed:       summary.Failed,
		Aborted:      len(summary.AbortedJobs),
		RetryIndices: summary.RetryIndices(),
		EngineError:  summary.EngineError,
		StartedAt:    summary.StartedAt,
		FinishedAt:   summary.FinishedAt,
	}
	if err := store.SaveRun(run); err != nil {
		return err
	}

	r.log.Infow("Batch recorded",
		logger.FieldBatchID, summary.BatchID,
		logger.FieldState, summary.State,
		"consumed", summary.TotalConsumed(),
		logger.FieldSymbol, sym.DB)
	return nil
}

// RecordWhenDone records h once it finishes. Used by the server, which does
// not wait on its batches.
func (r *Runner) RecordWhenDone(h *batch.Handle) {
	go func() {
		<-h.Done()
		if s := h.Summary(); s != nil {
			if err := r.Record(*s); err != nil {
				r.log.Warnw("Failed to record batch",
					logger.FieldBatchID, h.ID(),
					logger.FieldError, err)
			}
		}
	}()
}

// CredentialBalance is one credential's balance, or why it is unknown
type CredentialBalance struct {
	ID          string   `json:"id"`
	Fingerprint string   `json:"fingerprint"`
	Balance     *float64 `json:"balance"`
	Error       string   `json:"error,omitempty"`
}

// Balances queries every configured credential concurrently
func (r *Runner) Balances(ctx context.Context) ([]CredentialBalance, error) {
	creds, err := Credentials(r.Config())
	if err != nil {
		return nil, err
	}

	timeout := r.Config().Pulse.BalanceTimeout()
	out := make([]CredentialBalance, len(creds))
	var wg sync.WaitGroup
	for i, c := range creds {
		out[i] = CredentialBalance{ID: c.ID, Fingerprint: c.Fingerprint()}
		wg.Add(1)
		go func(i int, c batch.Credential) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			balance, err := r.client.QueryBalance(qctx, c)
			if err != nil {
				out[i].Error = err.Error()
				return
			}
			out[i].Balance = &balance
		}(i, c)
	}
	wg.Wait()
	return out, nil
}
