package batch

import (
	"context"
	"time"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
)

// outcome is the terminal result of one job
type outcome struct {
	state   JobState
	outputs []Output
	err     *JobError
}

// execute drives job from Pending to a terminal state. A returned error means
// the job was abandoned: ctx was cancelled, or an engine invariant broke.
// Job failures are returned as outcomes, never as errors.
func (w *worker) execute(ctx context.Context, job *Job) (*outcome, error) {
	log := pulseLogger{w.log.With(logger.FieldJobIndex, job.Index, logger.FieldAttempt, job.Attempt)}

	resolved, fail, err := w.resolveAttachments(ctx, job)
	if err != nil || fail != nil {
		return w.failJob(job, fail), err
	}

	if err := w.pace(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub, err := w.client.SubmitJob(ctx, w.cred, job.Spec.App, resolved)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch {
	case err != nil:
		log.Infow("Submit failed", logger.FieldError, err)
		return w.failJob(job, submitError(err)), nil
	case len(sub.InlineErrors) > 0:
		jobErr := ClassifyInlineErrors(sub.InlineErrors, sub.Raw)
		log.Infow("Submit rejected", logger.FieldCategory, jobErr.Category, logger.FieldError, jobErr.Message)
		return w.failJob(job, jobErr), nil
	case sub.TaskID == "":
		return w.failJob(job, unclassifiedError("submit returned no task id", sub.Raw)), nil
	}

	job.TaskID = sub.TaskID
	if err := w.advance(job, StateSubmitted); err != nil {
		return nil, err
	}
	log.Pulse("Job submitted", logger.FieldTaskID, job.TaskID, logger.FieldCredential, w.cred.Fingerprint())

	return w.poll(ctx, job)
}

// resolveAttachments uploads pending attachments and builds the wire fields.
// The JobSpec is left untouched; resolved names live only in the wire fields.
func (w *worker) resolveAttachments(ctx context.Context, job *Job) ([]WireField, *JobError, error) {
	if job.Spec.PendingAttachments() > 0 {
		if err := w.advance(job, StateUploading); err != nil {
			return nil, nil, err
		}
	}

	wire := make([]WireField, 0, len(job.Spec.Fields))
	for _, f := range job.Spec.Fields {
		value := f.Value
		if a, ok := value.(Attachment); ok && a.Pending() {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			name, err := w.client.UploadAttachment(ctx, w.cred, a.LocalPath, a.Media)
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if err != nil {
				w.log.Infow("Attachment upload failed",
					logger.FieldJobIndex, job.Index,
					logger.FieldFile, a.LocalPath,
					logger.FieldError, err)
				return nil, attachmentError(a.LocalPath, err), nil
			}
			a.RemoteName = name
			value = a
		}

		s, err := WireValue(value)
		if err != nil {
			if errors.HasAssertionFailure(err) {
				return nil, nil, err
			}
			return nil, &JobError{
				Kind:     ErrorKindValidation,
				Category: CategoryParameter,
				NodeID:   f.NodeID,
				Message:  "parameter validation failed: node " + f.NodeID + ": " + err.Error(),
				cause:    err,
			}, nil
		}
		wire = append(wire, WireField{NodeID: f.NodeID, FieldName: f.Name, FieldValue: s})
	}
	return wire, nil, nil
}

// poll checks the task every pollInterval until it succeeds, fails or ctx is
// cancelled. There is no elapsed-time bound.
func (w *worker) poll(ctx context.Context, job *Job) (*outcome, error) {
	// Consecutive transient errors; only the first and the recovery are logged
	pollErrors := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.pollInterval):
		}

		res, err := w.client.PollJob(ctx, w.cred, job.TaskID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			pollErrors++
			w.log.Debugw("Transient poll error, retrying",
				logger.FieldJobIndex, job.Index,
				logger.FieldTaskID, job.TaskID,
				logger.FieldAttempt, pollErrors,
				logger.FieldError, err)
			if pollErrors == 1 {
				w.logf(job.Index, "poll error, retrying: %v", err)
			}
			continue
		}
		if pollErrors > 0 {
			w.logf(job.Index, "polling recovered after %d errors", pollErrors)
			pollErrors = 0
		}

		switch res.Status {
		case PollQueued, PollRunning:
			if err := w.advance(job, StatePolling); err != nil {
				return nil, err
			}
		case PollSucceeded:
			if err := job.transition(StateSucceeded); err != nil {
				return nil, err
			}
			job.Outputs = res.Outputs
			return &outcome{state: StateSucceeded, outputs: res.Outputs}, nil
		case PollFailed:
			return w.failJob(job, remoteError(res.Failure)), nil
		default:
			return w.failJob(job, &JobError{
				Kind:    ErrorKindRemote,
				Message: "remote execution failed: unrecognised status " + string(res.Status),
			}), nil
		}
	}
}

// advance moves job to a non-terminal state and tells the coordinator
func (w *worker) advance(job *Job, to JobState) error {
	if err := job.transition(to); err != nil {
		return err
	}
	w.send(message{kind: msgState, index: job.Index, worker: w.id, state: to, taskID: job.TaskID})
	return nil
}

func (w *worker) failJob(job *Job, jobErr *JobError) *outcome {
	if jobErr == nil {
		return nil
	}
	// Every non-terminal state may fail
	job.State = StateFailed
	job.Err = jobErr
	return &outcome{state: StateFailed, err: jobErr}
}
