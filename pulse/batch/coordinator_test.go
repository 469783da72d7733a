package batch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hubrun/errors"
)

// 5 jobs on one credential with concurrency 2
func TestTwoWorkersDrainQueue(t *testing.T) {
	client := newFakeClient()
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(5), []Credential{cred("main", 2)})
	require.NoError(t, err)
	assert.Equal(t, 2, h.Progress().Workers)

	s := waitSummary(t, h)

	assert.Equal(t, BatchCompleted, s.State)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 5, s.Completed)
	assert.Equal(t, 0, s.Failed)
	assert.Empty(t, s.FailedJobs)
	assert.Empty(t, s.RetryIndices())
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, client.submitCount(fmt.Sprintf("app-%d", i)))
	}
	assert.Equal(t, BatchCompleted, coord.State())
}

// An inline balance error fails the job without polling
func TestInlineValidationFailsWithoutPolling(t *testing.T) {
	client := newFakeClient()
	client.onSubmit = func(app string, attempt int) (*Submission, error) {
		if app == "app-2" {
			return &Submission{
				TaskID:       "task-app-2",
				InlineErrors: []InlineError{{NodeID: "14", Type: "api_error", Message: "API balance is insufficient"}},
				Raw:          `{"node_errors":{"14":"API balance is insufficient"}}`,
			}, nil
		}
		return &Submission{TaskID: "task-" + app}, nil
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(5), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	assert.Equal(t, 4, s.Completed)
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.FailedJobs, 1)
	assert.Equal(t, 2, s.FailedJobs[0].Index)
	assert.Equal(t, MessageInsufficientBalance, s.FailedJobs[0].Message)
	assert.Equal(t, string(CategoryInsufficientBalance), s.FailedJobs[0].Category)
	assert.Equal(t, ErrorKindValidation, s.FailedJobs[0].Kind)
	assert.Zero(t, client.pollCount("task-app-2"), "a rejected job is never polled")
	requireLogContains(t, s.Logs, "job 2: failed: "+MessageInsufficientBalance)
}

// Queued three times, then succeeded
func TestPollingUntilSuccess(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		if n < 3 {
			return &PollResult{Status: PollQueued}, nil
		}
		return succeeded(taskID), nil
	}
	coord := newTestCoordinator(t, client)
	events, unsubscribe := coord.Subscribe()
	defer unsubscribe()

	h, err := coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.NoError(t, err)

	var states []JobState
	timeout := time.After(10 * time.Second)
collect:
	for {
		select {
		case e := <-events:
			if e.Kind == EventJobState && e.Index == 0 {
				states = append(states, e.State)
			}
			if e.Kind == EventBatchFinished {
				break collect
			}
		case <-timeout:
			t.Fatal("no batch_finished event")
		}
	}
	s := waitSummary(t, h)

	assert.Equal(t, []JobState{StateSubmitted, StatePolling, StatePolling, StatePolling, StateSucceeded}, states)
	assert.Equal(t, 4, client.pollCount("task-app-0"))
	assert.Equal(t, 1, s.Completed)
}

// Cancel after 2 of 5 completed while the 3rd is mid-poll
func TestCancelMidPoll(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		if taskID == "task-app-2" {
			return &PollResult{Status: PollRunning}, nil
		}
		return succeeded(taskID), nil
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(5), []Credential{cred("main", 1)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p := h.Progress()
		return p.Completed == 2 && p.InFlight == 1 && client.pollCount("task-app-2") >= 1
	}, 10*time.Second, time.Millisecond)

	s := h.Cancel()

	assert.Equal(t, BatchCancelled, s.State)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, []int{2}, s.AbortedJobs)
	assert.Equal(t, []int{3, 4}, s.PendingJobs)
	assert.Equal(t, []int{2, 3, 4}, s.RetryIndices())
	assert.LessOrEqual(t, s.Completed+s.Failed, s.Total)

	h.Wait()
	polls := client.pollCount("task-app-2")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, client.pollCount("task-app-2"), "no polls after cancellation is observed")
	assert.Zero(t, client.submitCount("app-3"))
	assert.Equal(t, BatchCancelled, h.State())
}

// Concurrencies 1 and 3, 10 jobs, repeatable final counts
func TestMixedCredentials(t *testing.T) {
	for run := 0; run < 5; run++ {
		client := newFakeClient()
		coord := newTestCoordinator(t, client)

		h, err := coord.Start(context.Background(), makeSpecs(10), []Credential{cred("a", 1), cred("b", 3)})
		require.NoError(t, err)
		assert.Equal(t, 4, h.Progress().Workers)

		s := waitSummary(t, h)
		assert.Equal(t, 10, s.Completed, "run %d", run)
		assert.Equal(t, 0, s.Failed, "run %d", run)
		require.Len(t, s.Consumption, 2)
		assert.Equal(t, "a", s.Consumption[0].CredentialID)
		assert.Equal(t, "b", s.Consumption[1].CredentialID)
	}
}

func TestEveryIndexClaimedExactlyOnce(t *testing.T) {
	pools := [][]Credential{
		{cred("solo", 1)},
		{cred("wide", 8)},
		{cred("a", 2), cred("b", 5), cred("c", 1)},
	}
	for _, n := range []int{1, 7, 40} {
		for pi, pool := range pools {
			t.Run(fmt.Sprintf("n=%d/pool=%d", n, pi), func(t *testing.T) {
				client := newFakeClient()
				coord := newTestCoordinator(t, client)

				h, err := coord.Start(context.Background(), makeSpecs(n), pool)
				require.NoError(t, err)
				s := waitSummary(t, h)

				assert.Equal(t, n, s.Completed)
				for i := 0; i < n; i++ {
					assert.Equal(t, 1, client.submitCount(fmt.Sprintf("app-%d", i)), "index %d", i)
				}
			})
		}
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	client := newFakeClient()
	client.onSubmit = func(app string, attempt int) (*Submission, error) {
		if strings.HasSuffix(app, "3") {
			return nil, errors.New("connection reset")
		}
		return &Submission{TaskID: "task-" + app}, nil
	}
	coord := newTestCoordinator(t, client)
	events, unsubscribe := coord.Subscribe()

	var progress []Progress
	finished := 0
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range events {
			switch e.Kind {
			case EventProgress:
				progress = append(progress, *e.Progress)
			case EventBatchFinished:
				finished++
			}
		}
	}()

	h, err := coord.Start(context.Background(), makeSpecs(20), []Credential{cred("main", 4)})
	require.NoError(t, err)
	s := waitSummary(t, h)
	unsubscribe()
	<-collected

	last := -1
	for _, p := range progress {
		done := p.Completed + p.Failed
		assert.GreaterOrEqual(t, done, last)
		assert.LessOrEqual(t, done, p.Total)
		last = done
	}
	assert.Equal(t, 1, finished, "exactly one summary")
	assert.Equal(t, 18, s.Completed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, []int{3, 13}, s.RetryIndices())
	assert.Equal(t, ErrorKindSubmit, s.FailedJobs[0].Kind)
}

func TestEmptyRetryIsImmediate(t *testing.T) {
	client := newFakeClient()
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(3), []Credential{cred("main", 1)})
	require.NoError(t, err)
	first := waitSummary(t, h)
	require.Empty(t, first.RetryIndices())
	balanceCalls := client.balanceCount()

	retry, err := coord.RetrySubset(context.Background(), first.RetryIndices())
	require.NoError(t, err)

	select {
	case <-retry.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("empty retry did not finish")
	}
	s := waitSummary(t, retry)
	assert.Equal(t, BatchCompleted, s.State)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.Completed+s.Failed)
	assert.Empty(t, s.Consumption)
	assert.Equal(t, balanceCalls, client.balanceCount(), "an empty batch queries nothing")
}

func TestRetrySubsetKeepsOriginalIndices(t *testing.T) {
	client := newFakeClient()
	client.onSubmit = func(app string, attempt int) (*Submission, error) {
		if app == "app-1" && attempt == 1 {
			return &Submission{InlineErrors: []InlineError{{NodeID: "3", Message: "steps must be <= 50"}}}, nil
		}
		return &Submission{TaskID: "task-" + app}, nil
	}
	sink := &recordingSink{}
	coord := newTestCoordinator(t, client, WithOutputSink(sink))

	h, err := coord.Start(context.Background(), makeSpecs(4), []Credential{cred("main", 2)})
	require.NoError(t, err)
	first := waitSummary(t, h)
	require.Equal(t, []int{1}, first.RetryIndices())
	assert.Equal(t, "parameter validation failed: node 3: steps must be <= 50", first.FailedJobs[0].Message)

	retry, err := coord.RetrySubset(context.Background(), append(first.RetryIndices(), 1))
	require.NoError(t, err)
	s := waitSummary(t, retry)

	assert.NotEqual(t, first.BatchID, s.BatchID)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Completed)
	requireLogContains(t, s.Logs, "job 1: succeeded")

	saved := sink.saved()
	require.Len(t, saved, 4)
	last := saved[len(saved)-1]
	assert.Equal(t, 1, last.Index)
	assert.Equal(t, 2, last.Attempt)
	assert.Equal(t, "job1", last.Spec.TaskName)
}

func TestRetrySubsetValidation(t *testing.T) {
	coord := newTestCoordinator(t, newFakeClient())

	_, err := coord.RetrySubset(context.Background(), []int{0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	h, err := coord.Start(context.Background(), makeSpecs(2), []Credential{cred("main", 1)})
	require.NoError(t, err)
	waitSummary(t, h)

	_, err = coord.RetrySubset(context.Background(), []int{5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestStartSubset(t *testing.T) {
	client := newFakeClient()
	coord := newTestCoordinator(t, client)

	h, err := coord.StartSubset(context.Background(), makeSpecs(6), []int{4, 1}, []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, client.submitCount("app-1"))
	assert.Equal(t, 1, client.submitCount("app-4"))
	assert.Zero(t, client.submitCount("app-0"))
}

func TestSecondStartConflicts(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		return &PollResult{Status: PollRunning}, nil
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.NoError(t, err)

	_, err = coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = coord.RetrySubset(context.Background(), []int{0})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	require.Eventually(t, func() bool { return h.Progress().InFlight == 1 }, 5*time.Second, time.Millisecond)
	s := h.Cancel()
	assert.Equal(t, []int{0}, s.AbortedJobs)
	h.Wait()

	// A finished batch no longer blocks the next one
	client.onPoll = nil
	next, err := coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, waitSummary(t, next).Completed)
}

func TestStartRejectsBadCredentials(t *testing.T) {
	coord := newTestCoordinator(t, newFakeClient())

	cases := map[string][]Credential{
		"no credentials":   nil,
		"zero concurrency": {cred("main", 0)},
		"missing key":      {{ID: "main", Concurrency: 1}},
		"missing id":       {{APIKey: "k", Concurrency: 1}},
		"duplicate id":     {cred("main", 1), {ID: "main", APIKey: "other-key-0123456789", Concurrency: 2}},
	}
	for name, creds := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := coord.Start(context.Background(), makeSpecs(1), creds)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
	assert.Equal(t, BatchIdle, coord.State())
}

func TestBudgetGuardRefusesStart(t *testing.T) {
	client := newFakeClient()
	var estimated float64
	guard := guardFunc(func(e float64) error {
		estimated = e
		return errors.Wrap(errors.ErrBudgetExceeded, "daily budget would be exceeded")
	})
	cfg := testConfig()
	cfg.CostPerJob = 1.5
	coord := NewCoordinator(client, cfg, WithBudgetGuard(guard))

	_, err := coord.Start(context.Background(), makeSpecs(4), []Credential{cred("main", 1)})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBudgetExceeded))
	assert.NotEmpty(t, errors.GetAllHints(err))
	assert.InDelta(t, 6.0, estimated, 1e-9)
	assert.Zero(t, client.submitCount("app-0"))
	assert.Equal(t, BatchIdle, coord.State(), "a refusal is not a batch state")
}

func TestConsumptionAccounting(t *testing.T) {
	client := newFakeClient()
	client.onBalance = func(c Credential, call int) (float64, error) {
		switch {
		case c.ID == "spent" && call < 3:
			return 100, nil
		case c.ID == "spent":
			return 92.5, nil
		case c.ID == "topped-up" && call < 3:
			return 5, nil
		case c.ID == "topped-up":
			return 505, nil
		default:
			return 0, errors.New("account service unavailable")
		}
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(3),
		[]Credential{cred("spent", 1), cred("topped-up", 1), cred("broken", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	require.Len(t, s.Consumption, 3)
	assert.True(t, s.Consumption[0].Available)
	assert.InDelta(t, 7.5, s.Consumption[0].Consumed, 1e-9)
	assert.True(t, s.Consumption[1].Available)
	assert.Zero(t, s.Consumption[1].Consumed, "a recharge is never negative consumption")
	assert.False(t, s.Consumption[2].Available)
	assert.InDelta(t, 7.5, s.TotalConsumed(), 1e-9)
	assert.Equal(t, 3, s.Completed, "balance failures never fail the batch")
	requireLogContains(t, s.Logs, "balance query failed for broken")
}

func TestAttachmentsAreUploadedBeforeSubmit(t *testing.T) {
	client := newFakeClient()
	coord := newTestCoordinator(t, client)

	img, err := NewAttachment(KindImage, "inputs/cat.png")
	require.NoError(t, err)
	spec := JobSpec{App: "app-0", Fields: []Field{
		{NodeID: "2", Name: "image", Value: img},
		{NodeID: "6", Name: "strength", Value: Number(0.8)},
	}}
	specs := []JobSpec{spec}

	h, err := coord.Start(context.Background(), specs, []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, []WireField{
		{NodeID: "2", FieldName: "image", FieldValue: "remote/inputs/cat.png"},
		{NodeID: "6", FieldName: "strength", FieldValue: "0.8"},
	}, client.fieldsFor("app-0"))
	assert.True(t, specs[0].Fields[0].Value.(Attachment).Pending(), "the caller's spec is never mutated")
}

func TestAttachmentFailureSkipsSubmit(t *testing.T) {
	client := newFakeClient()
	client.onUpload = func(path string) (string, error) {
		return "", errors.New("413 payload too large")
	}
	coord := newTestCoordinator(t, client)

	img, _ := NewAttachment(KindImage, "/tmp/huge/cat.png")
	specs := []JobSpec{{App: "app-0", Fields: []Field{{NodeID: "2", Name: "image", Value: img}}}}

	h, err := coord.Start(context.Background(), specs, []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	require.Len(t, s.FailedJobs, 1)
	assert.Equal(t, "attachment upload failed: cat.png", s.FailedJobs[0].Message)
	assert.Equal(t, ErrorKindAttachment, s.FailedJobs[0].Kind)
	assert.Zero(t, client.submitCount("app-0"))
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		if n < 2 {
			return nil, errors.New("dial tcp: i/o timeout")
		}
		return succeeded(taskID), nil
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 3, client.pollCount("task-app-0"))
	requireLogContains(t, s.Logs, "job 0: poll error, retrying")
	requireLogContains(t, s.Logs, "job 0: polling recovered after 2 errors")
}

func TestLongPollOutageLogsOnce(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		if n < 50 {
			return nil, errors.New("connection refused")
		}
		return succeeded(taskID), nil
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	// Then: the outage adds two lines, not one per failed poll
	assert.Equal(t, 1, s.Completed)
	pollLines := 0
	for _, l := range s.Logs {
		if strings.Contains(l, "poll") {
			pollLines++
		}
	}
	assert.Equal(t, 2, pollLines)
	requireLogContains(t, s.Logs, "polling recovered after 50 errors")
}

func TestRemoteFailure(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		return &PollResult{Status: PollFailed, Failure: &RemoteFailure{NodeID: "12", Message: "CUDA out of memory"}}, nil
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(1), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	require.Len(t, s.FailedJobs, 1)
	assert.Equal(t, ErrorKindRemote, s.FailedJobs[0].Kind)
	assert.Equal(t, "12", s.FailedJobs[0].NodeID)
	assert.Equal(t, "remote execution failed at node 12: CUDA out of memory", s.FailedJobs[0].Message)
}

func TestSinkFailureDoesNotFailJob(t *testing.T) {
	client := newFakeClient()
	sink := &recordingSink{err: errors.New("disk full")}
	coord := newTestCoordinator(t, client, WithOutputSink(sink))

	h, err := coord.Start(context.Background(), makeSpecs(2), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 0, s.Failed)
	requireLogContains(t, s.Logs, "job 0: saving outputs failed: disk full")
	assert.Len(t, sink.saved(), 2)
}

func TestWorkerPanicIsEngineError(t *testing.T) {
	client := newFakeClient()
	client.onSubmit = func(app string, attempt int) (*Submission, error) {
		panic("nil map write")
	}
	coord := newTestCoordinator(t, client)

	h, err := coord.Start(context.Background(), makeSpecs(2), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	assert.Equal(t, BatchCancelled, s.State)
	assert.Contains(t, s.EngineError, "panicked")
	assert.Equal(t, 0, s.Failed, "engine errors are never per-job failures")
	assert.Equal(t, []int{0}, s.AbortedJobs)
}

func TestParentContextCancellation(t *testing.T) {
	client := newFakeClient()
	client.onPoll = func(taskID string, n int) (*PollResult, error) {
		return &PollResult{Status: PollQueued}, nil
	}
	coord := newTestCoordinator(t, client)
	ctx, cancel := context.WithCancel(context.Background())

	h, err := coord.Start(ctx, makeSpecs(3), []Credential{cred("main", 3)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Progress().InFlight == 3 }, 5*time.Second, time.Millisecond)

	cancel()
	s := waitSummary(t, h)

	assert.Equal(t, BatchCancelled, s.State)
	assert.Equal(t, []int{0, 1, 2}, s.AbortedJobs)
	require.Len(t, s.Consumption, 1)
	assert.True(t, s.Consumption[0].Available, "end balances are queried even after cancellation")
}

func TestCancelAfterCompletionReturnsSummary(t *testing.T) {
	coord := newTestCoordinator(t, newFakeClient())

	h, err := coord.Start(context.Background(), makeSpecs(2), []Credential{cred("main", 1)})
	require.NoError(t, err)
	first := waitSummary(t, h)

	s := h.Cancel()
	assert.Equal(t, first.BatchID, s.BatchID)
	assert.Equal(t, BatchCompleted, s.State)
	assert.Equal(t, 2, s.Completed)
}

func TestSubmitPacing(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.SubmitsPerMinute = 6000
	coord := NewCoordinator(client, cfg)

	h, err := coord.Start(context.Background(), makeSpecs(3), []Credential{cred("main", 3)})
	require.NoError(t, err)
	s := waitSummary(t, h)
	assert.Equal(t, 3, s.Completed)

	pacers := newPacers([]Credential{cred("a", 2), cred("b", 1)}, 30)
	assert.Len(t, pacers, 2, "workers on one credential share a limiter")
	assert.Nil(t, newPacers([]Credential{cred("a", 1)}, 0))
}

func TestPacingPastDeadlineIsCancellation(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.SubmitsPerMinute = 1
	coord := NewCoordinator(client, cfg)

	// Given: the second submit slot is a minute away, the deadline much sooner
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	h, err := coord.Start(ctx, makeSpecs(3), []Credential{cred("main", 1)})
	require.NoError(t, err)
	s := waitSummary(t, h)

	// Then: the waiting job is aborted like any cancellation, not an engine error
	assert.Equal(t, BatchCancelled, s.State)
	assert.Empty(t, s.EngineError)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, []int{1}, s.AbortedJobs)
	assert.Equal(t, []int{2}, s.PendingJobs)
	assert.Equal(t, 1, client.submitCount("app-0"))
	assert.Zero(t, client.submitCount("app-1"))
}

func TestLastRetryIndices(t *testing.T) {
	client := newFakeClient()
	client.onSubmit = func(app string, attempt int) (*Submission, error) {
		if app == "app-0" {
			return nil, errors.New("502 bad gateway")
		}
		return &Submission{TaskID: "task-" + app}, nil
	}
	coord := newTestCoordinator(t, client)
	assert.Nil(t, coord.LastRetryIndices())

	h, err := coord.Start(context.Background(), makeSpecs(2), []Credential{cred("main", 1)})
	require.NoError(t, err)
	waitSummary(t, h)

	assert.Equal(t, []int{0}, coord.LastRetryIndices())
}

func TestFormatIndices(t *testing.T) {
	assert.Equal(t, "none", FormatIndices(nil))
	assert.Equal(t, "4", FormatIndices([]int{4}))
	assert.Equal(t, "0-3, 7, 9-10", FormatIndices([]int{9, 0, 1, 2, 3, 7, 10}))
}
