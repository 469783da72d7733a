// Package budget accounts for remote credit consumption.
// Uses pure sliding windows (24h/7d/30d) on the credit_ledger table for budget enforcement.
package budget

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/hubrun/errors"
)

// RunRecord is a finished batch run as kept in batch_runs
type RunRecord struct {
	ID           string    `json:"id"`
	JobFile      string    `json:"job_file"`
	State        string    `json:"state"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Aborted      int       `json:"aborted"`
	RetryIndices []int     `json:"retry_indices"`
	EngineError  string    `json:"engine_error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Store handles ledger writes and budget queries against credit_ledger and batch_runs
type Store struct {
	db      *sql.DB
	timeNow func() time.Time // Injectable for testing
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return NewStoreWithClock(db, time.Now)
}

// NewStoreWithClock creates a ledger store with injectable clock (for testing)
func NewStoreWithClock(db *sql.DB, timeNow func() time.Time) *Store {
	return &Store{db: db, timeNow: timeNow}
}

// RecordConsumption writes one ledger row per credential for a finished batch
func (s *Store) RecordConsumption(batchID string, consumption []Consumption) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin ledger transaction")
	}
	defer tx.Rollback()

	now := s.timeNow().UnixMilli()
	for _, c := range consumption {
		_, err := tx.Exec(`
			INSERT INTO credit_ledger
				(batch_id, credential_id, credential_fingerprint, start_balance, end_balance, consumed, available, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			batchID, c.CredentialID, c.Fingerprint, nullFloat(c.Start), nullFloat(c.End), c.Consumed, c.Available, now)
		if err != nil {
			return errors.Wrapf(err, "record consumption for credential %s", c.CredentialID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit ledger transaction")
	}
	return nil
}

// ConsumptionForBatch returns the ledger rows written for one batch
func (s *Store) ConsumptionForBatch(batchID string) ([]Consumption, error) {
	rows, err := s.db.Query(`
		SELECT credential_id, credential_fingerprint, start_balance, end_balance, consumed, available
		FROM credit_ledger
		WHERE batch_id = ?
		ORDER BY id`, batchID)
	if err != nil {
		return nil, errors.Wrapf(err, "query ledger for batch %s", batchID)
	}
	defer rows.Close()

	var out []Consumption
	for rows.Next() {
		var c Consumption
		var start, end sql.NullFloat64
		if err := rows.Scan(&c.CredentialID, &c.Fingerprint, &start, &end, &c.Consumed, &c.Available); err != nil {
			return nil, errors.Wrap(err, "scan ledger row")
		}
		if start.Valid {
			c.Start = &start.Float64
		}
		if end.Valid {
			c.End = &end.Float64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// getConsumed sums available consumption within a sliding window ending now
func (s *Store) getConsumed(window time.Duration, period string) (total float64, runs int, err error) {
	cutoff := s.timeNow().Add(-window).UnixMilli()

	err = s.db.QueryRow(`
		SELECT
			COALESCE(SUM(consumed), 0) as total_consumed,
			COUNT(DISTINCT batch_id) as run_count
		FROM credit_ledger
		WHERE recorded_at >= ?
			AND available = 1
	`, cutoff).Scan(&total, &runs)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query %s consumption", period)
	}

	return total, runs, nil
}

// GetDailyConsumed sums credits consumed in the last 24 hours
func (s *Store) GetDailyConsumed() (float64, int, error) {
	return s.getConsumed(24*time.Hour, "daily")
}

// GetWeeklyConsumed sums credits consumed in the last 7 days
func (s *Store) GetWeeklyConsumed() (float64, int, error) {
	return s.getConsumed(7*24*time.Hour, "weekly")
}

// GetMonthlyConsumed sums credits consumed in the last 30 days
func (s *Store) GetMonthlyConsumed() (float64, int, error) {
	return s.getConsumed(30*24*time.Hour, "monthly")
}

// SaveRun stores or replaces the record of a finished batch run
func (s *Store) SaveRun(r RunRecord) error {
	indices := r.RetryIndices
	if indices == nil {
		indices = []int{}
	}
	encoded, err := json.Marshal(indices)
	if err != nil {
		return errors.Wrap(err, "encode retry indices")
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO batch_runs
			(id, job_file, state, total, completed, failed, aborted, retry_indices, engine_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobFile, r.State, r.Total, r.Completed, r.Failed, r.Aborted, string(encoded), r.EngineError,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "save batch run %s", r.ID)
	}
	return nil
}

// GetRun loads a finished batch run by id
func (s *Store) GetRun(id string) (*RunRecord, error) {
	rows, err := s.db.Query(runSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query batch run %s", id)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "batch run %s", id)
	}
	return &runs[0], nil
}

// ListRuns returns the most recent finished runs, newest first
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(runSelect+` ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list batch runs")
	}
	return scanRuns(rows)
}

const runSelect = `
	SELECT id, job_file, state, total, completed, failed, aborted, retry_indices, engine_error, started_at, finished_at
	FROM batch_runs`

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var indices string
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.JobFile, &r.State, &r.Total, &r.Completed, &r.Failed, &r.Aborted,
			&indices, &r.EngineError, &started, &finished); err != nil {
			return nil, errors.Wrap(err, "scan batch run")
		}
		if err := json.Unmarshal([]byte(indices), &r.RetryIndices); err != nil {
			return nil, errors.Wrapf(err, "decode retry indices of batch run %s", r.ID)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
