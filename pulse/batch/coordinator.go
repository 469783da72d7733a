// Package batch is the batch job execution engine: it drives a list of job
// specs through the remote submit/poll lifecycle on a pool of
// credential-bound workers, and aggregates outcomes and credit consumption.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
)

// Coordinator runs one batch at a time and remembers the last job list so
// failed jobs can be retried by index.
type Coordinator struct {
	client TaskClient
	cfg    Config
	sink   OutputSink
	guard  BudgetGuard
	log    pulseLogger
	events *Broadcaster

	mu        sync.Mutex
	current   *Handle
	lastSpecs []JobSpec
	lastCreds []Credential
	attempts  []int
	hasLast   bool
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithOutputSink runs sink after every successful job
func WithOutputSink(sink OutputSink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// WithBudgetGuard refuses to start batches whose estimated cost the guard rejects
func WithBudgetGuard(guard BudgetGuard) Option {
	return func(c *Coordinator) { c.guard = guard }
}

// WithLogger replaces the default "batch" component logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Coordinator) { c.log = pulseLogger{log} }
}

// NewCoordinator creates a coordinator for the given remote client
func NewCoordinator(client TaskClient, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    pulseLogger{logger.ComponentLogger("batch")},
		events: NewBroadcaster(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs every spec on the credential pool. It returns as soon as the
// batch is running; progress arrives through Subscribe and the handle.
func (c *Coordinator) Start(ctx context.Context, specs []JobSpec, creds []Credential) (*Handle, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	indices := make([]int, len(specs))
	attempts := make([]int, len(specs))
	for i := range specs {
		indices[i] = i
		attempts[i] = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.launch(ctx, specs, creds, indices, attempts)
}

// RetrySubset runs the given indices of the last started job list again, as
// a new batch on the same credentials. Indices keep referring to the
// original list. An empty list yields an empty, already completed batch.
func (c *Coordinator) RetrySubset(ctx context.Context, indices []int) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasLast {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("no previous batch to retry"),
			"start a batch first")
	}
	subset, err := normalizeIndices(indices, len(c.lastSpecs))
	if err != nil {
		return nil, err
	}

	attempts := append([]int(nil), c.attempts...)
	for _, i := range subset {
		attempts[i]++
	}
	return c.launch(ctx, c.lastSpecs, c.lastCreds, subset, attempts)
}

// StartSubset runs only the given indices of specs. It is how a caller
// retries a run it restored from its own history, where this coordinator
// never saw the original Start.
func (c *Coordinator) StartSubset(ctx context.Context, specs []JobSpec, indices []int, creds []Credential) (*Handle, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	subset, err := normalizeIndices(indices, len(specs))
	if err != nil {
		return nil, err
	}

	attempts := make([]int, len(specs))
	for i := range attempts {
		attempts[i] = 1
	}
	for _, i := range subset {
		attempts[i] = 2
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.launch(ctx, specs, creds, subset, attempts)
}

// launch starts a run of specs[indices]. Callers hold c.mu.
func (c *Coordinator) launch(ctx context.Context, specs []JobSpec, creds []Credential, indices []int, attempts []int) (*Handle, error) {
	if c.current != nil && c.current.State() == BatchRunning {
		return nil, errors.WithHint(
			errors.NewConflictError("batch %s is still running", c.current.ID()),
			"cancel it or wait for it to finish")
	}

	if c.guard != nil && len(indices) > 0 && c.cfg.CostPerJob > 0 {
		estimate := float64(len(indices)) * c.cfg.CostPerJob
		if err := c.guard.CheckBudget(estimate); err != nil {
			err = errors.Wrapf(err, "batch of %d jobs refused", len(indices))
			return nil, errors.WithHint(err, "raise the pulse budget limits or wait for the window to slide")
		}
	}

	jobs := make([]*Job, 0, len(indices))
	for _, i := range indices {
		jobs = append(jobs, newJob(i, specs[i], attempts[i]))
	}

	// Keep private copies; the caller may reuse its slices
	c.lastSpecs = append(make([]JobSpec, 0, len(specs)), specs...)
	c.lastCreds = append(make([]Credential, 0, len(creds)), creds...)
	c.attempts = attempts
	c.hasLast = true

	h := newHandle(ctx, uuid.NewString(), c.cfg, c.client, c.sink, c.events, c.log, jobs, c.lastCreds)
	c.current = h
	go h.aggregate()

	return h, nil
}

// Current returns the running or most recently finished batch, or nil
func (c *Coordinator) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the state of the current batch, BatchIdle if none was started
func (c *Coordinator) State() BatchState {
	if h := c.Current(); h != nil {
		return h.State()
	}
	return BatchIdle
}

// Subscribe streams events of every batch this coordinator runs
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe()
}

// LastRetryIndices returns the indices the last finished batch did not
// complete, or nil if no batch has finished
func (c *Coordinator) LastRetryIndices() []int {
	h := c.Current()
	if h == nil {
		return nil
	}
	if s := h.Summary(); s != nil {
		return s.RetryIndices()
	}
	return nil
}

func validateCredentials(creds []Credential) error {
	if len(creds) == 0 {
		return errors.WithHint(
			errors.NewInvalidRequestError("at least one credential is required"),
			"add one with `hubrun am cred add` or set HUBRUN_API_KEY")
	}
	seen := make(map[string]bool, len(creds))
	for i, c := range creds {
		switch {
		case c.ID == "":
			return errors.NewInvalidRequestError("credential %d has no id", i)
		case seen[c.ID]:
			return errors.NewInvalidRequestError("credential id %s is used twice", c.ID)
		case c.APIKey == "":
			return errors.NewInvalidRequestError("credential %s has no api key", c.ID)
		case c.Concurrency < 1:
			return errors.NewInvalidRequestError("credential %s: concurrency must be at least 1, got %d", c.ID, c.Concurrency)
		}
		seen[c.ID] = true
	}
	return nil
}

// normalizeIndices sorts and dedupes indices and checks they are in range
func normalizeIndices(indices []int, n int) ([]int, error) {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, errors.NewInvalidRequestError("job index %d out of range [0, %d)", i, n)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

// FormatIndices renders indices compactly for logs and CLI output ("0-3, 7, 9")
func FormatIndices(indices []int) string {
	if len(indices) == 0 {
		return "none"
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	out := ""
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		if out != "" {
			out += ", "
		}
		if j > i {
			out += fmt.Sprintf("%d-%d", sorted[i], sorted[j])
		} else {
			out += fmt.Sprintf("%d", sorted[i])
		}
		i = j + 1
	}
	return out
}
