package batch

import (
	"time"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/pulse/budget"
)

// JobSpec is one parameter set. The engine only reads it.
type JobSpec struct {
	App      string  // remote app id
	Fields   []Field // in submit order
	TaskName string  // optional fragment for output file names
}

// PendingAttachments counts fields that still need an upload
func (s JobSpec) PendingAttachments() int {
	n := 0
	for _, f := range s.Fields {
		if a, ok := f.Value.(Attachment); ok && a.Pending() {
			n++
		}
	}
	return n
}

// Credential is an API key and how many jobs may run on it at once
type Credential struct {
	ID          string `json:"id"`
	APIKey      string `json:"-"`
	Concurrency int    `json:"concurrency"`
}

// Fingerprint is the only form of the key that may appear in logs
func (c Credential) Fingerprint() string {
	return budget.Fingerprint(c.APIKey)
}

func (c Credential) String() string {
	return c.ID + "(" + c.Fingerprint() + ")"
}

// JobState is where a job is in its remote lifecycle
type JobState string

const (
	StatePending   JobState = "pending"
	StateUploading JobState = "uploading"
	StateSubmitted JobState = "submitted"
	StatePolling   JobState = "polling"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	// StateAborted is reported only in cancellation summaries for jobs that
	// were in flight when the cancel was observed. No job transitions into it.
	StateAborted JobState = "aborted"
)

// IsTerminal reports whether no further transitions can occur
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

var allowedTransitions = map[JobState][]JobState{
	StatePending:   {StateUploading, StateSubmitted, StateFailed},
	StateUploading: {StateSubmitted, StateFailed},
	StateSubmitted: {StatePolling, StateSucceeded, StateFailed},
	StatePolling:   {StatePolling, StateSucceeded, StateFailed},
}

// Job is the engine's wrapper around a spec for one run
type Job struct {
	Index   int // position in the caller's original list
	Spec    JobSpec
	State   JobState
	Attempt int
	TaskID  string
	Outputs []Output
	Err     *JobError
}

func newJob(index int, spec JobSpec, attempt int) *Job {
	return &Job{
		Index:   index,
		Spec:    spec,
		State:   StatePending,
		Attempt: attempt,
	}
}

func (j *Job) transition(to JobState) error {
	for _, next := range allowedTransitions[j.State] {
		if next == to {
			j.State = to
			return nil
		}
	}
	return errors.AssertionFailedf("job %d: illegal transition %s -> %s", j.Index, j.State, to)
}

// Output is one file produced by a succeeded job
type Output struct {
	URL      string `json:"url"`
	FileType string `json:"file_type"`
	NodeID   string `json:"node_id,omitempty"`
}

// FailedJobInfo describes one failed job in a batch summary
type FailedJobInfo struct {
	Index     int       `json:"index"`
	Message   string    `json:"message"`
	Kind      ErrorKind `json:"kind"`
	Category  string    `json:"category,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
