package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
)

// worker is one execution lane bound to a credential
type worker struct {
	id           int
	cred         Credential
	queue        *Queue
	client       TaskClient
	sink         OutputSink
	pacer        *rate.Limiter // nil = unpaced
	pollInterval time.Duration
	jobPause     time.Duration
	msgs         chan<- message
	log          pulseLogger
}

// run takes jobs until the queue is exhausted or ctx is cancelled
func (w *worker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.send(message{kind: msgFatal, index: -1, worker: w.id,
				fatal: errors.AssertionFailedf("worker %d panicked: %v", w.id, r)})
		}
	}()

	w.log.Starting("Worker started", logger.FieldWorkerID, w.id, logger.FieldCredential, w.cred.Fingerprint())

	for {
		if ctx.Err() != nil {
			w.log.Debugw("Worker stopping, batch cancelled", logger.FieldWorkerID, w.id)
			return
		}

		job, ok := w.queue.TakeNext()
		if !ok {
			w.log.Debugw("Worker stopping, queue exhausted", logger.FieldWorkerID, w.id)
			return
		}
		w.send(message{kind: msgClaim, index: job.Index, worker: w.id, credential: w.cred.ID})

		out, err := w.execute(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-job: the coordinator reports it as aborted
				w.log.Debugw("Job abandoned on cancellation",
					logger.FieldJobIndex, job.Index,
					logger.FieldState, job.State)
				return
			}
			w.send(message{kind: msgFatal, index: job.Index, worker: w.id, fatal: err})
			return
		}
		w.send(message{kind: msgOutcome, index: job.Index, worker: w.id, state: out.state,
			taskID: job.TaskID, outputs: out.outputs, jobErr: out.err})

		if out.state == StateSucceeded && w.sink != nil {
			if err := w.sink.Save(ctx, job, out.outputs); err != nil {
				w.log.Warnw("Saving outputs failed",
					logger.FieldJobIndex, job.Index,
					logger.FieldTaskID, job.TaskID,
					logger.FieldError, err)
				w.logf(job.Index, "saving outputs failed: %v", err)
			}
		}

		if w.queue.Remaining() == 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.jobPause):
		}
	}
}

// pace waits for the credential's next submit slot. A ctx that ends first,
// deadline included, is reported as cancellation.
func (w *worker) pace(ctx context.Context) error {
	if w.pacer == nil {
		return nil
	}
	r := w.pacer.Reserve()
	if !r.OK() {
		return errors.AssertionFailedf("submit pacer for %s cannot grant a slot", w.cred.ID)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *worker) send(m message) {
	w.msgs <- m
}

func (w *worker) logf(index int, format string, args ...interface{}) {
	w.send(message{kind: msgLog, index: index, worker: w.id, text: fmt.Sprintf(format, args...)})
}
