package tracker

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hubtest "github.com/teranos/hubrun/internal/testing"
)

func TestTrackCall_SQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tracker := NewUsageTracker(db)
	at := time.UnixMilli(1_700_000_000_000)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hub_call_usage")).
		WithArgs(OpSubmit, "fp1", "task-9", true, "", int64(1500), at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = tracker.TrackCall(&CallUsage{
		Operation:             OpSubmit,
		CredentialFingerprint: "fp1",
		TaskID:                "task-9",
		Success:               true,
		Duration:              1500 * time.Millisecond,
		RequestTimestamp:      at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackCall_RequiresOperation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewUsageTracker(db).TrackCall(&CallUsage{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "nothing written")
}

func TestTrackCall_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO hub_call_usage").WillReturnError(assert.AnError)

	err = NewUsageTracker(db).TrackCall(&CallUsage{Operation: OpPoll})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record poll call")
}

func TestGetUsageStats_SQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.UnixMilli(1_700_000_000_000)
	mock.ExpectQuery("SELECT(.+)FROM hub_call_usage").
		WithArgs(since.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"total_calls", "successful_calls", "avg_duration_ms", "submits"}).
			AddRow(4, 3, 120.5, 2))

	stats, err := NewUsageTracker(db).GetUsageStats(since)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCalls)
	assert.Equal(t, 3, stats.SuccessfulCalls)
	assert.Equal(t, 2, stats.Submits)
	assert.InDelta(t, 0.75, stats.SuccessRate, 0.0001)
	assert.InDelta(t, 120.5, stats.AvgDurationMs, 0.0001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsageStats_NoCalls(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT(.+)FROM hub_call_usage").
		WillReturnRows(sqlmock.NewRows([]string{"total_calls", "successful_calls", "avg_duration_ms", "submits"}).
			AddRow(0, 0, 0, 0))

	stats, err := NewUsageTracker(db).GetUsageStats(time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.SuccessRate, "no division by zero")
}

func TestUsageTracker_AgainstSQLite(t *testing.T) {
	db := hubtest.CreateTestDB(t)
	tracker := NewUsageTracker(db)

	now := time.Now()
	hourAgo := now.Add(-time.Hour)
	calls := []*CallUsage{
		{Operation: OpSubmit, CredentialFingerprint: "a", TaskID: "t1", Success: true, Duration: 100 * time.Millisecond, RequestTimestamp: hourAgo},
		{Operation: OpPoll, CredentialFingerprint: "a", TaskID: "t1", Success: true, Duration: 20 * time.Millisecond, RequestTimestamp: hourAgo},
		{Operation: OpPoll, CredentialFingerprint: "a", TaskID: "t1", Success: false, ErrorMessage: "timeout", Duration: 40 * time.Millisecond, RequestTimestamp: hourAgo},
		{Operation: OpBalance, CredentialFingerprint: "b", Success: true, Duration: 10 * time.Millisecond, RequestTimestamp: now.Add(-48 * time.Hour)},
	}
	for _, c := range calls {
		require.NoError(t, tracker.TrackCall(c))
	}

	// Given: three calls within the last day and one older
	stats, err := tracker.GetUsageStats(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCalls)
	assert.Equal(t, 2, stats.SuccessfulCalls)
	assert.Equal(t, 1, stats.Submits)

	// Then: polls dominate the breakdown
	breakdown, err := tracker.GetOperationBreakdown(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, breakdown, 2)
	assert.Equal(t, OpPoll, breakdown[0].Operation)
	assert.Equal(t, 2, breakdown[0].CallCount)
	assert.Equal(t, 1, breakdown[0].FailureCount)
	assert.InDelta(t, 30, breakdown[0].AvgDurationMs, 0.001)

	// And: the time series spans every day with calls
	points, err := tracker.GetTimeSeriesData(now.Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	total := 0
	for _, p := range points {
		total += p.Calls
	}
	assert.Equal(t, 4, total)
	assert.GreaterOrEqual(t, len(points), 2)
}
