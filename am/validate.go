package am

import (
	"net/url"

	"github.com/teranos/hubrun/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Hub.BaseURL == "" {
		return errors.New("hub.base_url cannot be empty")
	}
	if u, err := url.Parse(c.Hub.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("hub.base_url must be an absolute URL, got %q", c.Hub.BaseURL)
	}
	if c.Hub.RequestTimeoutSeconds <= 0 {
		return errors.Newf("hub.request_timeout_seconds must be > 0, got %d", c.Hub.RequestTimeoutSeconds)
	}

	seen := make(map[string]bool, len(c.Credentials))
	for i, cred := range c.Credentials {
		if cred.ID == "" {
			return errors.Newf("credentials[%d].id cannot be empty", i)
		}
		if seen[cred.ID] {
			return errors.Newf("credentials[%d].id %q is used twice", i, cred.ID)
		}
		seen[cred.ID] = true
		if cred.APIKey == "" {
			return errors.Newf("credentials[%d] (%s) has no api_key", i, cred.ID)
		}
		// Zero concurrency would spawn no worker for this key
		if cred.Concurrency < 1 {
			return errors.Newf("credentials[%d] (%s) concurrency must be >= 1, got %d", i, cred.ID, cred.Concurrency)
		}
	}

	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.JobPauseMS < 0 {
		return errors.Newf("pulse.job_pause_ms must be >= 0, got %d", c.Pulse.JobPauseMS)
	}
	if c.Pulse.SubmitsPerMinute < 0 {
		return errors.Newf("pulse.submits_per_minute must be >= 0, got %d", c.Pulse.SubmitsPerMinute)
	}
	if c.Pulse.BalanceTimeoutSeconds <= 0 {
		return errors.Newf("pulse.balance_timeout_seconds must be > 0, got %d", c.Pulse.BalanceTimeoutSeconds)
	}

	// Budget values: 0 = unlimited, negative = invalid
	if c.Pulse.CostPerJobCredits < 0 {
		return errors.Newf("pulse.cost_per_job_credits must be >= 0, got %f", c.Pulse.CostPerJobCredits)
	}
	if c.Pulse.DailyBudgetCredits < 0 {
		return errors.Newf("pulse.daily_budget_credits must be >= 0, got %f", c.Pulse.DailyBudgetCredits)
	}
	if c.Pulse.WeeklyBudgetCredits < 0 {
		return errors.Newf("pulse.weekly_budget_credits must be >= 0, got %f", c.Pulse.WeeklyBudgetCredits)
	}
	if c.Pulse.MonthlyBudgetCredits < 0 {
		return errors.Newf("pulse.monthly_budget_credits must be >= 0, got %f", c.Pulse.MonthlyBudgetCredits)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	return nil
}
