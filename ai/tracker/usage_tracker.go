// Package tracker records calls made to the remote hub.
package tracker

import (
	"database/sql"
	"time"

	"github.com/teranos/hubrun/errors"
)

// Hub operations recorded in hub_call_usage
const (
	OpUpload  = "upload"
	OpSubmit  = "submit"
	OpPoll    = "poll"
	OpBalance = "balance"
)

// CallUsage is one remote call. Credentials are identified by fingerprint only.
type CallUsage struct {
	ID                    int64         `json:"id" db:"id"`
	Operation             string        `json:"operation" db:"operation"`
	CredentialFingerprint string        `json:"credential_fingerprint" db:"credential_fingerprint"`
	TaskID                string        `json:"task_id,omitempty" db:"task_id"`
	Success               bool          `json:"success" db:"success"`
	ErrorMessage          string        `json:"error_message,omitempty" db:"error_message"`
	Duration              time.Duration `json:"duration" db:"duration_ms"`
	RequestTimestamp      time.Time     `json:"request_timestamp" db:"request_timestamp"`
}

// UsageTracker writes and aggregates hub_call_usage rows
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a new hub call tracker
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackCall records one hub call
func (t *UsageTracker) TrackCall(usage *CallUsage) error {
	if usage.Operation == "" {
		return errors.New("call usage requires an operation")
	}
	_, err := t.db.Exec(`
		INSERT INTO hub_call_usage (
			operation, credential_fingerprint, task_id, success,
			error_message, duration_ms, request_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		usage.Operation, usage.CredentialFingerprint, usage.TaskID, usage.Success,
		usage.ErrorMessage, usage.Duration.Milliseconds(), usage.RequestTimestamp.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s call", usage.Operation)
	}
	return nil
}

// UsageStats represents aggregated call statistics
type UsageStats struct {
	TotalCalls      int     `json:"total_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	Submits         int     `json:"submits"`
}

// GetUsageStats returns call statistics since the given time
func (t *UsageTracker) GetUsageStats(since time.Time) (*UsageStats, error) {
	var stats UsageStats
	err := t.db.QueryRow(`
		SELECT
			COUNT(*) as total_calls,
			COUNT(CASE WHEN success = 1 THEN 1 END) as successful_calls,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COUNT(CASE WHEN operation = 'submit' THEN 1 END) as submits
		FROM hub_call_usage
		WHERE request_timestamp >= ?`, since.UnixMilli()).Scan(
		&stats.TotalCalls, &stats.SuccessfulCalls, &stats.AvgDurationMs, &stats.Submits,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query call stats")
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCalls) / float64(stats.TotalCalls)
	}
	return &stats, nil
}

// OperationBreakdown is the per-operation share of calls
type OperationBreakdown struct {
	Operation     string  `json:"operation"`
	CallCount     int     `json:"call_count"`
	FailureCount  int     `json:"failure_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// GetOperationBreakdown returns call counts grouped by operation, busiest first
func (t *UsageTracker) GetOperationBreakdown(since time.Time) ([]OperationBreakdown, error) {
	rows, err := t.db.Query(`
		SELECT
			operation,
			COUNT(*) as call_count,
			COUNT(CASE WHEN success = 0 THEN 1 END) as failure_count,
			AVG(duration_ms) as avg_duration_ms
		FROM hub_call_usage
		WHERE request_timestamp >= ?
		GROUP BY operation
		ORDER BY call_count DESC, operation ASC`, since.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query operation breakdown")
	}
	defer rows.Close()

	var breakdown []OperationBreakdown
	for rows.Next() {
		var ob OperationBreakdown
		if err := rows.Scan(&ob.Operation, &ob.CallCount, &ob.FailureCount, &ob.AvgDurationMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan operation breakdown")
		}
		breakdown = append(breakdown, ob)
	}
	return breakdown, rows.Err()
}

// TimeSeriesPoint represents a single day of calls
type TimeSeriesPoint struct {
	Date     string `json:"date"`
	Calls    int    `json:"calls"`
	Failures int    `json:"failures"`
}

// GetTimeSeriesData returns daily call counts (UTC) since the given time, oldest first
func (t *UsageTracker) GetTimeSeriesData(since time.Time) ([]TimeSeriesPoint, error) {
	rows, err := t.db.Query(`
		SELECT
			DATE(request_timestamp / 1000, 'unixepoch') as date,
			COUNT(*) as calls,
			COUNT(CASE WHEN success = 0 THEN 1 END) as failures
		FROM hub_call_usage
		WHERE request_timestamp >= ?
		GROUP BY date
		ORDER BY date ASC`, since.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query call time series")
	}
	defer rows.Close()

	var points []TimeSeriesPoint
	for rows.Next() {
		var p TimeSeriesPoint
		if err := rows.Scan(&p.Date, &p.Calls, &p.Failures); err != nil {
			return nil, errors.Wrap(err, "failed to scan time series point")
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
