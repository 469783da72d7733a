package budget

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/teranos/hubrun/errors"
)

// BudgetConfig contains budget limits in remote credits. A zero limit is unlimited.
type BudgetConfig struct {
	DailyBudgetCredits   float64
	WeeklyBudgetCredits  float64
	MonthlyBudgetCredits float64
	CostPerJobCredits    float64
}

// Status represents current budget state
type Status struct {
	DailyConsumed    float64 `json:"daily_consumed"`
	WeeklyConsumed   float64 `json:"weekly_consumed"`
	MonthlyConsumed  float64 `json:"monthly_consumed"`
	DailyRemaining   float64 `json:"daily_remaining"`
	WeeklyRemaining  float64 `json:"weekly_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	DailyRuns        int     `json:"daily_runs"`
	WeeklyRuns       int     `json:"weekly_runs"`
	MonthlyRuns      int     `json:"monthly_runs"`
}

// Tracker tracks and enforces budget limits over the credit ledger
type Tracker struct {
	store  *Store
	config BudgetConfig
	mu     sync.RWMutex // Protects config from concurrent read/write
}

// NewTracker creates a new budget tracker
func NewTracker(db *sql.DB, config BudgetConfig) *Tracker {
	return NewTrackerWithStore(NewStore(db), config)
}

// NewTrackerWithStore creates a tracker over an existing store
func NewTrackerWithStore(store *Store, config BudgetConfig) *Tracker {
	return &Tracker{store: store, config: config}
}

// Store returns the ledger the tracker reads from
func (bt *Tracker) Store() *Store {
	return bt.store
}

// GetStatus returns current budget status based on consumption recorded in credit_ledger
func (bt *Tracker) GetStatus() (*Status, error) {
	dailyConsumed, dailyRuns, err := bt.store.GetDailyConsumed()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily consumption")
	}

	weeklyConsumed, weeklyRuns, err := bt.store.GetWeeklyConsumed()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get weekly consumption")
	}

	monthlyConsumed, monthlyRuns, err := bt.store.GetMonthlyConsumed()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monthly consumption")
	}

	bt.mu.RLock()
	cfg := bt.config
	bt.mu.RUnlock()

	return &Status{
		DailyConsumed:    dailyConsumed,
		WeeklyConsumed:   weeklyConsumed,
		MonthlyConsumed:  monthlyConsumed,
		DailyRemaining:   remaining(cfg.DailyBudgetCredits, dailyConsumed),
		WeeklyRemaining:  remaining(cfg.WeeklyBudgetCredits, weeklyConsumed),
		MonthlyRemaining: remaining(cfg.MonthlyBudgetCredits, monthlyConsumed),
		DailyRuns:        dailyRuns,
		WeeklyRuns:       weeklyRuns,
		MonthlyRuns:      monthlyRuns,
	}, nil
}

// CheckBudget checks if we have budget available for an estimated spend.
// Returns an error wrapping errors.ErrBudgetExceeded if any window would be exceeded.
func (bt *Tracker) CheckBudget(estimatedCredits float64) error {
	bt.mu.RLock()
	cfg := bt.config
	bt.mu.RUnlock()

	if cfg.DailyBudgetCredits <= 0 && cfg.WeeklyBudgetCredits <= 0 && cfg.MonthlyBudgetCredits <= 0 {
		return nil
	}

	status, err := bt.GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	windows := []struct {
		name     string
		consumed float64
		limit    float64
	}{
		{"daily", status.DailyConsumed, cfg.DailyBudgetCredits},
		{"weekly", status.WeeklyConsumed, cfg.WeeklyBudgetCredits},
		{"monthly", status.MonthlyConsumed, cfg.MonthlyBudgetCredits},
	}
	for _, w := range windows {
		if w.limit > 0 && w.consumed+estimatedCredits > w.limit {
			err := errors.Wrapf(errors.ErrBudgetExceeded,
				"%s budget would be exceeded: consumed %.2f + estimated %.2f > limit %.2f credits",
				w.name, w.consumed, estimatedCredits, w.limit)
			return errors.WithDetail(err, fmt.Sprintf("Remaining %s credits: %.2f", w.name, remaining(w.limit, w.consumed)))
		}
	}

	return nil
}

// EstimateBatchCost estimates the credits a batch of n jobs will consume
func (bt *Tracker) EstimateBatchCost(jobs int) float64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return float64(jobs) * bt.config.CostPerJobCredits
}

// UpdateLimits replaces the budget limits at runtime (config reload)
func (bt *Tracker) UpdateLimits(config BudgetConfig) error {
	for name, v := range map[string]float64{
		"daily":        config.DailyBudgetCredits,
		"weekly":       config.WeeklyBudgetCredits,
		"monthly":      config.MonthlyBudgetCredits,
		"cost per job": config.CostPerJobCredits,
	} {
		if v < 0 {
			return errors.Newf("%s budget cannot be negative: %.2f", name, v)
		}
	}

	bt.mu.Lock()
	bt.config = config
	bt.mu.Unlock()
	return nil
}

// GetBudgetLimits returns the current budget configuration limits
func (bt *Tracker) GetBudgetLimits() BudgetConfig {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.config
}

// remaining is limit - consumed, or -1 for an unlimited window
func remaining(limit, consumed float64) float64 {
	if limit <= 0 {
		return -1
	}
	return limit - consumed
}

