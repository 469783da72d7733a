package batch

import (
	"sync"
	"time"
)

// SubscriberChannelBufferSize is the buffer size for event subscriber channels
const SubscriberChannelBufferSize = 100

// EventKind names what an Event reports
type EventKind string

const (
	EventBatchStarted  EventKind = "batch_started"
	EventJobState      EventKind = "job_state"
	EventLog           EventKind = "log"
	EventProgress      EventKind = "progress"
	EventBatchFinished EventKind = "batch_finished"
)

// Event is one entry of the live progress stream
type Event struct {
	BatchID  string        `json:"batch_id"`
	Kind     EventKind     `json:"kind"`
	Time     time.Time     `json:"time"`
	Index    int           `json:"index"` // -1 for batch-level events
	State    JobState      `json:"state,omitempty"`
	TaskID   string        `json:"task_id,omitempty"`
	Message  string        `json:"message,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
	Summary  *BatchSummary `json:"summary,omitempty"`
}

// Broadcaster fans events out to subscribers without ever blocking the
// publisher. A subscriber that falls behind misses events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	next        int
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a func that closes it
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, SubscriberChannelBufferSize)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends e to every subscriber that has room
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
