package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/errors"
	hubtest "github.com/teranos/hubrun/internal/testing"
	"github.com/teranos/hubrun/internal/testing/fakehub"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/pulse/budget"
)

func testConfig() *am.Config {
	return &am.Config{
		Hub: am.HubConfig{BaseURL: "https://hub.example.com", RequestTimeoutSeconds: 5},
		Credentials: []am.CredentialConfig{
			{ID: "main", APIKey: "sk-main-0001", Concurrency: 2},
		},
		Pulse: am.PulseConfig{PollIntervalMS: 1, JobPauseMS: 1, BalanceTimeoutSeconds: 1},
	}
}

func newTestRunner(t *testing.T, cfg *am.Config) (*Runner, *fakehub.Client) {
	t.Helper()
	hub := fakehub.New(1.5)
	hub.Balances["main"] = 100
	r, err := New(cfg, hubtest.CreateTestDB(t), WithTaskClient(hub), WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	return r, hub
}

func specs(apps ...string) []batch.JobSpec {
	out := make([]batch.JobSpec, len(apps))
	for i, app := range apps {
		out[i] = batch.JobSpec{App: app, TaskName: app}
	}
	return out
}

func TestStartAndRecord(t *testing.T) {
	r, hub := newTestRunner(t, testConfig())
	hub.Fail["bad"] = true

	// Given: a batch with one remote failure
	h, err := r.Start(context.Background(), specs("a", "bad", "c"), "/jobs/batch.yaml")
	require.NoError(t, err)
	summary := h.Wait()
	assert.Equal(t, batch.BatchCompleted, summary.State)
	assert.Equal(t, 2, summary.Completed)

	// When: the batch is recorded
	require.NoError(t, r.Record(summary))

	// Then: run history has the retry indices and the job file
	run, err := r.Budget().Store().GetRun(summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "/jobs/batch.yaml", run.JobFile)
	assert.Equal(t, []int{1}, run.RetryIndices)
	assert.Equal(t, "completed", run.State)

	// And: the ledger counts the 3 submits at 1.5 credits each
	consumed, runs, err := r.Budget().Store().GetDailyConsumed()
	require.NoError(t, err)
	assert.InDelta(t, 4.5, consumed, 0.0001)
	assert.Equal(t, 1, runs)

	// Recording again changes nothing
	require.NoError(t, r.Record(summary))
	consumed, _, err = r.Budget().Store().GetDailyConsumed()
	require.NoError(t, err)
	assert.InDelta(t, 4.5, consumed, 0.0001)
}

func TestRetryDefaultsToUnfinishedJobs(t *testing.T) {
	r, hub := newTestRunner(t, testConfig())
	hub.Fail["bad"] = true

	h, err := r.Start(context.Background(), specs("a", "bad"), "f.yaml")
	require.NoError(t, err)
	h.Wait()

	// When: the remote problem is fixed and the batch retried without indices
	hub.Fail["bad"] = false
	retry, err := r.Retry(context.Background(), nil)
	require.NoError(t, err)
	summary := retry.Wait()

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Completed)
	assert.ElementsMatch(t, []string{"a", "bad", "bad"}, hub.Submits)

	require.NoError(t, r.Record(summary))
	run, err := r.Budget().Store().GetRun(summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "f.yaml", run.JobFile, "retries keep the job file")
}

func TestRetryRun(t *testing.T) {
	r, hub := newTestRunner(t, testConfig())
	run := &budget.RunRecord{ID: "old", JobFile: "f.yaml", Total: 3, RetryIndices: []int{0, 2}}

	h, err := r.RetryRun(context.Background(), run, specs("a", "b", "c"))
	require.NoError(t, err)
	summary := h.Wait()
	assert.Equal(t, 2, summary.Completed)
	assert.ElementsMatch(t, []string{"a", "c"}, hub.Submits)

	// A job file that changed size cannot be retried by index
	_, err = r.RetryRun(context.Background(), run, specs("a", "b"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestCredentials(t *testing.T) {
	cfg := testConfig()
	creds, err := Credentials(cfg)
	require.NoError(t, err)
	assert.Equal(t, []batch.Credential{{ID: "main", APIKey: "sk-main-0001", Concurrency: 2}}, creds)

	// Given: only the implicit HUBRUN_API_KEY credential
	cfg.Credentials = nil
	cfg.Hub.APIKey = "sk-env"
	creds, err = Credentials(cfg)
	require.NoError(t, err)
	assert.Equal(t, am.DefaultCredentialID, creds[0].ID)

	cfg.Hub.APIKey = ""
	_, err = Credentials(cfg)
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestUpdateConfigAppliesToNextBatch(t *testing.T) {
	r, hub := newTestRunner(t, testConfig())
	hub.Block = make(chan struct{})

	h, err := r.Start(context.Background(), specs("a"), "")
	require.NoError(t, err)

	// When: the credential pool is replaced mid-batch
	next := testConfig()
	next.Credentials = []am.CredentialConfig{{ID: "second", APIKey: "sk-second", Concurrency: 1}}
	next.Pulse.DailyBudgetCredits = 50
	require.NoError(t, r.UpdateConfig(next))

	// Then: the running batch is untouched
	close(hub.Block)
	summary := h.Wait()
	assert.Equal(t, 1, summary.Completed)
	require.Len(t, summary.Consumption, 1)
	assert.Equal(t, "main", summary.Consumption[0].CredentialID)

	assert.Equal(t, 50.0, r.Budget().GetBudgetLimits().DailyBudgetCredits)
	assert.Equal(t, "second", r.Config().Credentials[0].ID)
}

func TestBudgetGuardRefusesStart(t *testing.T) {
	cfg := testConfig()
	cfg.Pulse.CostPerJobCredits = 10
	cfg.Pulse.DailyBudgetCredits = 15
	r, hub := newTestRunner(t, cfg)

	_, err := r.Start(context.Background(), specs("a", "b"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBudgetExceeded))
	assert.Zero(t, hub.SubmitCount())
}

func TestBalances(t *testing.T) {
	cfg := testConfig()
	cfg.Credentials = append(cfg.Credentials, am.CredentialConfig{ID: "ghost", APIKey: "sk-ghost", Concurrency: 1})
	r, _ := newTestRunner(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	balances, err := r.Balances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	require.NotNil(t, balances[0].Balance)
	assert.Equal(t, 100.0, *balances[0].Balance)
	assert.NotContains(t, balances[0].Fingerprint, "sk-main")

	assert.Nil(t, balances[1].Balance)
	assert.Contains(t, balances[1].Error, "unknown credential")
}

func TestRecordWhenDone(t *testing.T) {
	// Recording logs from its own goroutine, possibly after the test returns
	hub := fakehub.New(0)
	r, err := New(testConfig(), hubtest.CreateTestDB(t), WithTaskClient(hub), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)

	h, err := r.Start(context.Background(), specs("a"), "x.toml")
	require.NoError(t, err)
	r.RecordWhenDone(h)
	h.Wait()

	assert.Eventually(t, func() bool {
		_, err := r.Budget().Store().GetRun(h.ID())
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}
