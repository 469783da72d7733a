package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Hub defaults
	v.SetDefault("hub.base_url", DefaultHubBaseURL)
	v.SetDefault("hub.api_key", "")
	v.SetDefault("hub.request_timeout_seconds", DefaultRequestTimeout)
	v.SetDefault("hub.allow_private_ips", false)

	// Pulse (batch engine) defaults
	v.SetDefault("pulse.poll_interval_ms", DefaultPollIntervalMS) // remote jobs take minutes, 3s is polite
	v.SetDefault("pulse.job_pause_ms", DefaultJobPauseMS)         // avoid bursting the hub between jobs
	v.SetDefault("pulse.submits_per_minute", 0)
	v.SetDefault("pulse.balance_timeout_seconds", DefaultBalanceTimeout)
	v.SetDefault("pulse.cost_per_job_credits", 0.0)
	v.SetDefault("pulse.daily_budget_credits", 0.0)
	v.SetDefault("pulse.weekly_budget_credits", 0.0)
	v.SetDefault("pulse.monthly_budget_credits", 0.0)

	// Output defaults
	v.SetDefault("output.dir", "./outputs")
	v.SetDefault("output.download", true)

	// Database defaults
	v.SetDefault("database.path", "~/.hubrun/"+DefaultDatabaseFilename)

	// Server configuration defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "https://localhost", "http://127.0.0.1"})
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("hub.api_key", "HUBRUN_API_KEY")
}
