package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hubrun/errors"
	hubtest "github.com/teranos/hubrun/internal/testing"
	"github.com/teranos/hubrun/internal/util"
)

// clock is a settable time source for sliding-window tests
type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestStore_RecordConsumptionRoundTrip(t *testing.T) {
	db := hubtest.CreateTestDB(t)
	store := NewStore(db)

	rows := []Consumption{
		NewConsumption("main", "fpMain", util.Ptr(100.0), util.Ptr(80.0)),
		NewConsumption("spare", "fpSpare", nil, util.Ptr(12.0)),
	}
	require.NoError(t, store.RecordConsumption("batch-1", rows))

	got, err := store.ConsumptionForBatch("batch-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "main", got[0].CredentialID)
	assert.True(t, got[0].Available)
	assert.InDelta(t, 20.0, got[0].Consumed, 1e-9)
	require.NotNil(t, got[0].Start)
	assert.InDelta(t, 100.0, *got[0].Start, 1e-9)

	assert.Equal(t, "spare", got[1].CredentialID)
	assert.False(t, got[1].Available)
	assert.Nil(t, got[1].Start)
	require.NotNil(t, got[1].End)
	assert.InDelta(t, 12.0, *got[1].End, 1e-9)
}

func TestStore_SlidingWindows(t *testing.T) {
	db := hubtest.CreateTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := &clock{now: now}
	store := NewStoreWithClock(db, c.Now)

	record := func(at time.Time, batch string, consumed float64) {
		c.now = at
		require.NoError(t, store.RecordConsumption(batch, []Consumption{
			NewConsumption("main", "fp", util.Ptr(1000.0), util.Ptr(1000-consumed)),
		}))
	}

	// Given: runs 1h, 3d and 20d ago, plus one 40d ago that no window covers
	record(now.Add(-1*time.Hour), "recent", 5)
	record(now.Add(-3*24*time.Hour), "this-week", 7)
	record(now.Add(-20*24*time.Hour), "this-month", 11)
	record(now.Add(-40*24*time.Hour), "too-old", 100)
	c.now = now

	daily, dailyRuns, err := store.GetDailyConsumed()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, daily, 1e-9)
	assert.Equal(t, 1, dailyRuns)

	weekly, weeklyRuns, err := store.GetWeeklyConsumed()
	require.NoError(t, err)
	assert.InDelta(t, 12.0, weekly, 1e-9)
	assert.Equal(t, 2, weeklyRuns)

	monthly, monthlyRuns, err := store.GetMonthlyConsumed()
	require.NoError(t, err)
	assert.InDelta(t, 23.0, monthly, 1e-9)
	assert.Equal(t, 3, monthlyRuns)
}

func TestStore_UnavailableConsumptionIsNotCounted(t *testing.T) {
	db := hubtest.CreateTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.RecordConsumption("b", []Consumption{
		NewConsumption("main", "fp", nil, util.Ptr(3.0)),
	}))

	daily, runs, err := store.GetDailyConsumed()
	require.NoError(t, err)
	assert.Zero(t, daily)
	assert.Zero(t, runs)
}

func TestStore_BatchRuns(t *testing.T) {
	db := hubtest.CreateTestDB(t)
	store := NewStore(db)

	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	first := RunRecord{
		ID: "run-1", JobFile: "jobs.yaml", State: "completed",
		Total: 5, Completed: 3, Failed: 2,
		RetryIndices: []int{1, 4},
		StartedAt:    started, FinishedAt: started.Add(time.Minute),
	}
	second := RunRecord{
		ID: "run-2", JobFile: "jobs.yaml", State: "cancelled",
		Total: 5, Completed: 1, Aborted: 2,
		StartedAt: started.Add(time.Hour), FinishedAt: started.Add(2 * time.Hour),
	}
	require.NoError(t, store.SaveRun(first))
	require.NoError(t, store.SaveRun(second))

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, got.RetryIndices)
	assert.Equal(t, "jobs.yaml", got.JobFile)
	assert.True(t, got.FinishedAt.Equal(first.FinishedAt))

	got, err = store.GetRun("run-2")
	require.NoError(t, err)
	assert.Empty(t, got.RetryIndices)

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID, "newest first")

	_, err = store.GetRun("missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
