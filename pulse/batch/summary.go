package batch

import (
	"sort"
	"time"

	"github.com/teranos/hubrun/pulse/budget"
)

// BatchState is the lifecycle of a batch run
type BatchState string

const (
	BatchIdle      BatchState = "idle"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchCancelled BatchState = "cancelled"
)

// Progress is a point-in-time view of a running batch
type Progress struct {
	BatchID   string     `json:"batch_id"`
	State     BatchState `json:"state"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	InFlight  int        `json:"in_flight"`
	Workers   int        `json:"workers"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// BatchSummary is the immutable result of a finished or cancelled batch.
// Completed + Failed + len(AbortedJobs) + len(PendingJobs) == Total.
type BatchSummary struct {
	BatchID     string               `json:"batch_id"`
	State       BatchState           `json:"state"`
	Total       int                  `json:"total"`
	Completed   int                  `json:"completed"`
	Failed      int                  `json:"failed"`
	Logs        []string             `json:"logs"`
	FailedJobs  []FailedJobInfo      `json:"failed_jobs"`
	AbortedJobs []int                `json:"aborted_jobs"` // in flight when cancelled
	PendingJobs []int                `json:"pending_jobs"` // never claimed before cancel
	Consumption []budget.Consumption `json:"consumption"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	EngineError string               `json:"engine_error,omitempty"`
}

// RetryIndices returns every index that did not succeed, ascending
func (s *BatchSummary) RetryIndices() []int {
	out := make([]int, 0, len(s.FailedJobs)+len(s.AbortedJobs)+len(s.PendingJobs))
	for _, f := range s.FailedJobs {
		out = append(out, f.Index)
	}
	out = append(out, s.AbortedJobs...)
	out = append(out, s.PendingJobs...)
	sort.Ints(out)
	return out
}

// TotalConsumed sums the credits of every credential whose consumption is available
func (s *BatchSummary) TotalConsumed() float64 {
	total := 0.0
	for _, c := range s.Consumption {
		if c.Available {
			total += c.Consumed
		}
	}
	return total
}
