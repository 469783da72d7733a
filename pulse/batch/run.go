package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/pulse/budget"
)

type msgKind int

const (
	msgClaim msgKind = iota
	msgState
	msgOutcome
	msgLog
	msgFatal
)

// message is what workers send the aggregator
type message struct {
	kind       msgKind
	index      int
	worker     int
	credential string
	state      JobState
	taskID     string
	outputs    []Output
	jobErr     *JobError
	text       string
	fatal      error
}

// Handle controls one batch run. All run state is owned by a single
// aggregating goroutine; workers only talk to it over a channel.
type Handle struct {
	id      string
	cfg     Config
	client  TaskClient
	sink    OutputSink
	events  *Broadcaster
	log     pulseLogger
	jobs    []*Job
	creds   []Credential
	workers int

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	msgs     chan message
	done     chan struct{} // summary ready
	exited   chan struct{} // aggregator and every worker returned
	progress atomic.Pointer[Progress]
	summary  *BatchSummary // written once before done is closed

	// Owned by the aggregating goroutine
	indices       map[int]bool
	finished      bool
	completed     int
	failed        int
	failedJobs    []FailedJobInfo
	logs          []string
	claimed       map[int]bool
	inFlight      map[int]bool
	states        map[int]JobState
	startBalances map[string]*float64
	engineErr     error
	startedAt     time.Time
}

func newHandle(parent context.Context, id string, cfg Config, client TaskClient, sink OutputSink,
	events *Broadcaster, log pulseLogger, jobs []*Job, creds []Credential) *Handle {
	ctx, cancel := context.WithCancel(parent)

	workers := 0
	for _, c := range creds {
		workers += c.Concurrency
	}

	h := &Handle{
		id:        id,
		cfg:       cfg,
		client:    client,
		sink:      sink,
		events:    events,
		log:       log,
		jobs:      jobs,
		creds:     creds,
		workers:   workers,
		parent:    parent,
		ctx:       ctx,
		cancel:    cancel,
		msgs:      make(chan message, 4*workers+1),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		indices:   make(map[int]bool, len(jobs)),
		claimed:   make(map[int]bool),
		inFlight:  make(map[int]bool),
		states:    make(map[int]JobState),
		startedAt: time.Now(),
	}
	for _, j := range jobs {
		h.indices[j.Index] = true
	}
	h.storeProgress(BatchRunning)
	return h
}

// ID returns the batch id
func (h *Handle) ID() string { return h.id }

// State returns the batch lifecycle state
func (h *Handle) State() BatchState { return h.progress.Load().State }

// Progress returns the latest progress snapshot
func (h *Handle) Progress() Progress { return *h.progress.Load() }

// Done is closed once the summary is available
func (h *Handle) Done() <-chan struct{} { return h.done }

// Summary returns the summary, or nil while the batch is running
func (h *Handle) Summary() *BatchSummary {
	select {
	case <-h.done:
		return h.summary
	default:
		return nil
	}
}

// Cancel stops the batch and returns its (possibly partial) summary. Jobs in
// flight are reported as aborted. Cancelling a finished batch returns its summary.
func (h *Handle) Cancel() BatchSummary {
	h.cancel()
	<-h.done
	return *h.summary
}

// Wait blocks until the summary is available and every worker has returned
func (h *Handle) Wait() BatchSummary {
	<-h.done
	<-h.exited
	return *h.summary
}

// aggregate is the single writer of the run state
func (h *Handle) aggregate() {
	defer close(h.exited)
	defer h.cancel()

	h.log.Starting("Batch started",
		logger.FieldBatchID, h.id,
		logger.FieldTotal, len(h.jobs),
		"workers", h.workers)
	h.logf(-1, "batch started: %d jobs, %d workers", len(h.jobs), h.workers)
	h.publish(Event{Kind: EventBatchStarted, Index: -1, Progress: h.progress.Load()})

	if len(h.jobs) == 0 {
		h.finish(BatchCompleted)
		return
	}

	h.startBalances = h.queryBalances(h.ctx)
	if warning := checkMemoryPressure(h.workers); warning != "" {
		h.log.Warnw(warning, logger.FieldBatchID, h.id)
		h.logf(-1, "%s", warning)
	}

	queue := NewQueue(h.jobs)
	pacers := newPacers(h.creds, h.cfg.SubmitsPerMinute)
	var wg sync.WaitGroup
	id := 0
	for _, cred := range h.creds {
		for slot := 0; slot < cred.Concurrency; slot++ {
			w := &worker{
				id:           id,
				cred:         cred,
				queue:        queue,
				client:       h.client,
				sink:         h.sink,
				pacer:        pacers[cred.ID],
				pollInterval: h.cfg.PollInterval,
				jobPause:     h.cfg.JobPause,
				msgs:         h.msgs,
				log:          pulseLogger{h.log.With(logger.FieldBatchID, h.id)},
			}
			id++
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.run(h.ctx)
			}()
		}
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	ctxDone := h.ctx.Done()
	for {
		select {
		case m := <-h.msgs:
			h.handle(m)
		case <-ctxDone:
			ctxDone = nil
			// Claims and outcomes already sent happened before the cancel was observed
			h.drainBuffered()
			h.finish(BatchCancelled)
		case <-workersDone:
			// No sender is left; pick up whatever is still buffered
			h.drainBuffered()
			if !h.finished {
				if h.ctx.Err() != nil {
					h.finish(BatchCancelled)
				} else {
					h.fail(errors.AssertionFailedf("all workers exited with %d of %d jobs terminal",
						h.completed+h.failed, len(h.jobs)))
				}
			}
			return
		}
	}
}

func (h *Handle) drainBuffered() {
	for {
		select {
		case m := <-h.msgs:
			h.handle(m)
		default:
			return
		}
	}
}

func (h *Handle) handle(m message) {
	if m.kind == msgFatal {
		h.fail(m.fatal)
		return
	}
	if h.finished {
		// Results landing after cancellation are discarded
		return
	}

	switch m.kind {
	case msgClaim:
		if !h.indices[m.index] {
			h.fail(errors.AssertionFailedf("worker %d claimed unknown job %d", m.worker, m.index))
			return
		}
		if h.claimed[m.index] {
			h.fail(errors.AssertionFailedf("job %d claimed twice", m.index))
			return
		}
		h.claimed[m.index] = true
		h.inFlight[m.index] = true
		h.states[m.index] = StatePending
		h.logf(m.index, "started on %s (worker %d)", m.credential, m.worker)
		h.publishProgress()

	case msgState:
		prev := h.states[m.index]
		h.states[m.index] = m.state
		switch {
		case m.state == StateSubmitted:
			h.logf(m.index, "submitted, task %s", m.taskID)
		case m.state == StatePolling && prev != StatePolling:
			h.logf(m.index, "waiting for task %s", m.taskID)
		case m.state == StateUploading:
			h.logf(m.index, "uploading attachments")
		}
		h.publish(Event{Kind: EventJobState, Index: m.index, State: m.state, TaskID: m.taskID})

	case msgOutcome:
		h.onTerminal(m)

	case msgLog:
		h.logf(m.index, "%s", m.text)
	}
}

// onTerminal records one job reaching Succeeded or Failed
func (h *Handle) onTerminal(m message) {
	if !h.inFlight[m.index] {
		h.fail(errors.AssertionFailedf("terminal outcome for job %d which is not in flight", m.index))
		return
	}
	if !m.state.IsTerminal() {
		h.fail(errors.AssertionFailedf("job %d reported non-terminal outcome %s", m.index, m.state))
		return
	}
	delete(h.inFlight, m.index)
	h.states[m.index] = m.state

	event := Event{Kind: EventJobState, Index: m.index, State: m.state, TaskID: m.taskID}
	if m.state == StateSucceeded {
		h.completed++
		h.logf(m.index, "succeeded, %d output(s)", len(m.outputs))
	} else {
		h.failed++
		info := FailedJobInfo{Index: m.index, Timestamp: time.Now()}
		if m.jobErr != nil {
			info.Message = m.jobErr.Message
			info.Kind = m.jobErr.Kind
			info.Category = string(m.jobErr.Category)
			info.NodeID = m.jobErr.NodeID
		}
		h.failedJobs = append(h.failedJobs, info)
		h.logf(m.index, "failed: %s", info.Message)
		event.Message = info.Message
	}
	h.publish(event)
	h.publishProgress()

	if h.completed+h.failed == len(h.jobs) {
		h.finish(BatchCompleted)
	}
}

// fail records an engine error and stops the batch
func (h *Handle) fail(err error) {
	h.log.Errorw("Engine error, stopping batch", logger.FieldBatchID, h.id, logger.FieldError, err)
	if h.finished {
		return
	}
	if h.engineErr == nil {
		h.engineErr = err
	}
	h.logf(-1, "engine error: %v", err)
	h.cancel()
	h.finish(BatchCancelled)
}

// finish builds the summary exactly once
func (h *Handle) finish(state BatchState) {
	if h.finished {
		return
	}
	h.finished = true

	var aborted, pending []int
	if state == BatchCancelled {
		h.logf(-1, "batch cancelled")
		for _, j := range h.jobs {
			switch {
			case h.inFlight[j.Index]:
				aborted = append(aborted, j.Index)
			case !h.claimed[j.Index]:
				pending = append(pending, j.Index)
			}
		}
		sort.Ints(aborted)
		sort.Ints(pending)
	}

	var consumption []budget.Consumption
	if len(h.jobs) > 0 {
		// The run context may already be cancelled; end balances still count
		ctx := context.WithoutCancel(h.parent)
		consumption = h.consumption(h.queryBalances(ctx))
	}

	h.logf(-1, "batch %s: %d completed, %d failed, %d aborted, %d not started",
		state, h.completed, h.failed, len(aborted), len(pending))

	summary := &BatchSummary{
		BatchID:     h.id,
		State:       state,
		Total:       len(h.jobs),
		Completed:   h.completed,
		Failed:      h.failed,
		Logs:        append([]string(nil), h.logs...),
		FailedJobs:  append([]FailedJobInfo(nil), h.failedJobs...),
		AbortedJobs: aborted,
		PendingJobs: pending,
		Consumption: consumption,
		StartedAt:   h.startedAt,
		FinishedAt:  time.Now(),
	}
	if h.engineErr != nil {
		summary.EngineError = h.engineErr.Error()
	}
	sort.Slice(summary.FailedJobs, func(i, j int) bool { return summary.FailedJobs[i].Index < summary.FailedJobs[j].Index })

	h.summary = summary
	h.storeProgress(state)
	h.publish(Event{Kind: EventBatchFinished, Index: -1, Progress: h.progress.Load(), Summary: summary})

	h.log.Closing("Batch finished",
		logger.FieldBatchID, h.id,
		logger.FieldState, state,
		logger.FieldCompleted, h.completed,
		logger.FieldFailed, h.failed,
		"aborted", len(aborted),
		logger.FieldDurationMS, summary.FinishedAt.Sub(summary.StartedAt).Milliseconds())

	close(h.done)
}

// queryBalances asks the hub for the balance of each distinct credential.
// A failure is logged and leaves that balance unknown.
func (h *Handle) queryBalances(ctx context.Context) map[string]*float64 {
	balances := make(map[string]*float64)
	for _, cred := range h.distinctCredentials() {
		qctx, cancel := context.WithTimeout(ctx, h.cfg.BalanceTimeout)
		bal, err := h.client.QueryBalance(qctx, cred)
		cancel()
		if err != nil {
			h.log.Warnw("Balance query failed",
				logger.FieldBatchID, h.id,
				logger.FieldCredential, cred.Fingerprint(),
				logger.FieldError, err)
			h.logf(-1, "balance query failed for %s: %v", cred.ID, err)
			balances[cred.ID] = nil
			continue
		}
		balances[cred.ID] = &bal
	}
	return balances
}

func (h *Handle) consumption(end map[string]*float64) []budget.Consumption {
	var out []budget.Consumption
	for _, cred := range h.distinctCredentials() {
		out = append(out, budget.NewConsumption(cred.ID, cred.Fingerprint(), h.startBalances[cred.ID], end[cred.ID]))
	}
	return out
}

func (h *Handle) distinctCredentials() []Credential {
	seen := make(map[string]bool)
	var out []Credential
	for _, c := range h.creds {
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}

func (h *Handle) logf(index int, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	line := time.Now().Format("15:04:05") + " "
	if index >= 0 {
		line += fmt.Sprintf("job %d: ", index)
	}
	line += text
	h.logs = append(h.logs, line)
	h.publish(Event{Kind: EventLog, Index: index, Message: line})
}

func (h *Handle) storeProgress(state BatchState) {
	h.progress.Store(&Progress{
		BatchID:   h.id,
		State:     state,
		Total:     len(h.jobs),
		Completed: h.completed,
		Failed:    h.failed,
		InFlight:  len(h.inFlight),
		Workers:   h.workers,
		StartedAt: h.startedAt,
		UpdatedAt: time.Now(),
	})
}

func (h *Handle) publishProgress() {
	h.storeProgress(BatchRunning)
	h.publish(Event{Kind: EventProgress, Index: -1, Progress: h.progress.Load()})
}

func (h *Handle) publish(e Event) {
	e.BatchID = h.id
	e.Time = time.Now()
	h.events.Publish(e)
}
