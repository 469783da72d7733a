package batch

import (
	"sort"
	"sync"
)

// Queue hands out jobs in ascending index order. Each job is handed out once.
type Queue struct {
	mu     sync.Mutex
	jobs   []*Job
	cursor int
}

// NewQueue creates a queue over jobs, ordered by index
func NewQueue(jobs []*Job) *Queue {
	ordered := make([]*Job, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	return &Queue{jobs: ordered}
}

// TakeNext claims the next job. It never blocks; false means exhausted.
func (q *Queue) TakeNext() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cursor >= len(q.jobs) {
		return nil, false
	}
	job := q.jobs[q.cursor]
	q.cursor++
	return job, true
}

// Remaining returns how many jobs have not been claimed yet
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) - q.cursor
}

// Len returns the number of jobs the queue was created with
func (q *Queue) Len() int {
	return len(q.jobs)
}
