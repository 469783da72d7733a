package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClient is a scripted TaskClient. Each job in tests has its own app id
// ("app-<index>") and the default task id is "task-<app>".
type fakeClient struct {
	mu           sync.Mutex
	submits      map[string]int
	submitFields map[string][]WireField
	polls        map[string]int
	uploads      []string
	balanceCalls int

	onUpload  func(path string) (string, error)
	onSubmit  func(app string, attempt int) (*Submission, error)
	onPoll    func(taskID string, n int) (*PollResult, error)
	onBalance func(cred Credential, call int) (float64, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		submits:      make(map[string]int),
		submitFields: make(map[string][]WireField),
		polls:        make(map[string]int),
	}
}

func (f *fakeClient) UploadAttachment(ctx context.Context, cred Credential, path string, kind FieldKind) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, path)
	fn := f.onUpload
	f.mu.Unlock()

	if fn != nil {
		return fn(path)
	}
	return "remote/" + path, nil
}

func (f *fakeClient) SubmitJob(ctx context.Context, cred Credential, app string, fields []WireField) (*Submission, error) {
	f.mu.Lock()
	f.submits[app]++
	attempt := f.submits[app]
	f.submitFields[app] = fields
	fn := f.onSubmit
	f.mu.Unlock()

	if fn != nil {
		return fn(app, attempt)
	}
	return &Submission{TaskID: "task-" + app}, nil
}

func (f *fakeClient) PollJob(ctx context.Context, cred Credential, taskID string) (*PollResult, error) {
	f.mu.Lock()
	n := f.polls[taskID]
	f.polls[taskID]++
	fn := f.onPoll
	f.mu.Unlock()

	if fn != nil {
		return fn(taskID, n)
	}
	return succeeded(taskID), nil
}

func (f *fakeClient) QueryBalance(ctx context.Context, cred Credential) (float64, error) {
	f.mu.Lock()
	call := f.balanceCalls
	f.balanceCalls++
	fn := f.onBalance
	f.mu.Unlock()

	if fn != nil {
		return fn(cred, call)
	}
	return 100, nil
}

func (f *fakeClient) submitCount(app string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[app]
}

func (f *fakeClient) pollCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[taskID]
}

func (f *fakeClient) balanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

func (f *fakeClient) fieldsFor(app string) []WireField {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitFields[app]
}

func succeeded(taskID string) *PollResult {
	return &PollResult{
		Status:  PollSucceeded,
		Outputs: []Output{{URL: "https://cdn.example.com/" + taskID + ".png", FileType: "png", NodeID: "9"}},
	}
}

// recordingSink remembers every saved job
type recordingSink struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (s *recordingSink) Save(ctx context.Context, job *Job, outputs []Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, *job)
	return s.err
}

func (s *recordingSink) saved() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// guardFunc adapts a func to BudgetGuard
type guardFunc func(float64) error

func (g guardFunc) CheckBudget(estimated float64) error { return g(estimated) }

func testConfig() Config {
	return Config{
		PollInterval:   time.Millisecond,
		JobPause:       time.Millisecond,
		BalanceTimeout: time.Second,
	}
}

func newTestCoordinator(t *testing.T, client TaskClient, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return NewCoordinator(client, testConfig(), opts...)
}

func cred(id string, concurrency int) Credential {
	return Credential{ID: id, APIKey: "key-" + id + "-0123456789", Concurrency: concurrency}
}

func makeSpecs(n int) []JobSpec {
	specs := make([]JobSpec, n)
	for i := range specs {
		specs[i] = JobSpec{
			App:      fmt.Sprintf("app-%d", i),
			TaskName: fmt.Sprintf("job%d", i),
			Fields:   []Field{{NodeID: "6", Name: "text", Value: Text(fmt.Sprintf("prompt %d", i))}},
		}
	}
	return specs
}

// waitSummary waits for the batch with a test timeout instead of hanging
func waitSummary(t *testing.T, h *Handle) BatchSummary {
	t.Helper()
	done := make(chan BatchSummary, 1)
	go func() { done <- h.Wait() }()
	select {
	case s := <-done:
		return s
	case <-time.After(10 * time.Second):
		t.Fatalf("batch %s did not finish", h.ID())
		return BatchSummary{}
	}
}

func requireLogContains(t *testing.T, logs []string, substr string) {
	t.Helper()
	for _, l := range logs {
		if strings.Contains(l, substr) {
			return
		}
	}
	require.Failf(t, "log line not found", "want %q in:\n%s", substr, strings.Join(logs, "\n"))
}
