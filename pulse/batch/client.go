package batch

import "context"

// TaskClient is the remote task service. Implementations must honour ctx so
// cancelling a batch aborts calls in flight.
type TaskClient interface {
	UploadAttachment(ctx context.Context, cred Credential, localPath string, kind FieldKind) (remoteName string, err error)
	SubmitJob(ctx context.Context, cred Credential, app string, fields []WireField) (*Submission, error)
	PollJob(ctx context.Context, cred Credential, taskID string) (*PollResult, error)
	QueryBalance(ctx context.Context, cred Credential) (float64, error)
}

// WireField is a resolved field as sent to the hub
type WireField struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

// Submission is the hub's answer to a submit. InlineErrors are per-field
// problems found before execution; when present the task will not run.
type Submission struct {
	TaskID       string
	InlineErrors []InlineError
	Raw          string // response payload, surfaced for unclassified errors
}

// InlineError is one validation problem reported alongside a submit
type InlineError struct {
	NodeID  string
	Type    string
	Message string
	Details string
}

// PollStatus is the remote status of a submitted task
type PollStatus string

const (
	PollQueued    PollStatus = "queued"
	PollRunning   PollStatus = "running"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
)

// PollResult is one poll response. Outputs is set for PollSucceeded,
// Failure for PollFailed.
type PollResult struct {
	Status  PollStatus
	Outputs []Output
	Failure *RemoteFailure
}

// RemoteFailure explains why the hub failed a task
type RemoteFailure struct {
	NodeID  string
	Message string
}

// OutputSink runs after a job succeeds (e.g. downloads its outputs).
// Errors are logged and never change the job's outcome.
type OutputSink interface {
	Save(ctx context.Context, job *Job, outputs []Output) error
}

// BudgetGuard decides whether a batch with the given estimated cost may start
type BudgetGuard interface {
	CheckBudget(estimatedCredits float64) error
}
