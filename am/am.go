// Package am holds hubrun configuration: where the hub lives, which credentials
// to run with and how the batch engine paces itself.
package am

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the hubrun configuration
type Config struct {
	Hub         HubConfig          `mapstructure:"hub" toml:"hub" yaml:"hub"`
	Credentials []CredentialConfig `mapstructure:"credentials" toml:"credentials" yaml:"credentials"`
	Pulse       PulseConfig        `mapstructure:"pulse" toml:"pulse" yaml:"pulse"`
	Output      OutputConfig       `mapstructure:"output" toml:"output" yaml:"output"`
	Database    DatabaseConfig     `mapstructure:"database" toml:"database" yaml:"database"`
	Server      ServerConfig       `mapstructure:"server" toml:"server" yaml:"server"`
}

// HubConfig configures access to the remote task service
type HubConfig struct {
	BaseURL               string `mapstructure:"base_url" toml:"base_url" yaml:"base_url"`
	APIKey                string `mapstructure:"api_key" toml:"api_key,omitempty" yaml:"api_key,omitempty"` // implicit single credential (HUBRUN_API_KEY)
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	AllowPrivateIPs       bool   `mapstructure:"allow_private_ips" toml:"allow_private_ips" yaml:"allow_private_ips"` // only for local test hubs
}

// CredentialConfig is one API key and how many jobs it may run at once
type CredentialConfig struct {
	ID          string `mapstructure:"id" toml:"id" yaml:"id"`
	APIKey      string `mapstructure:"api_key" toml:"api_key" yaml:"api_key"`
	Concurrency int    `mapstructure:"concurrency" toml:"concurrency" yaml:"concurrency"`
}

// PulseConfig configures the batch engine
type PulseConfig struct {
	PollIntervalMS        int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" yaml:"poll_interval_ms"`               // between polls of one task (default: 3000)
	JobPauseMS            int `mapstructure:"job_pause_ms" toml:"job_pause_ms" yaml:"job_pause_ms"`                           // between jobs on one worker (default: 500)
	SubmitsPerMinute      int `mapstructure:"submits_per_minute" toml:"submits_per_minute" yaml:"submits_per_minute"`         // per credential, 0 = unpaced
	BalanceTimeoutSeconds int `mapstructure:"balance_timeout_seconds" toml:"balance_timeout_seconds" yaml:"balance_timeout_seconds"`

	// Budget guard, in remote credits. 0 = unlimited.
	CostPerJobCredits    float64 `mapstructure:"cost_per_job_credits" toml:"cost_per_job_credits" yaml:"cost_per_job_credits"`
	DailyBudgetCredits   float64 `mapstructure:"daily_budget_credits" toml:"daily_budget_credits" yaml:"daily_budget_credits"`
	WeeklyBudgetCredits  float64 `mapstructure:"weekly_budget_credits" toml:"weekly_budget_credits" yaml:"weekly_budget_credits"`
	MonthlyBudgetCredits float64 `mapstructure:"monthly_budget_credits" toml:"monthly_budget_credits" yaml:"monthly_budget_credits"`
}

// OutputConfig configures where successful outputs are saved
type OutputConfig struct {
	Dir      string `mapstructure:"dir" toml:"dir" yaml:"dir"`
	Download bool   `mapstructure:"download" toml:"download" yaml:"download"`
}

// DatabaseConfig configures the SQLite ledger
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// ServerConfig configures `hubrun serve`
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address" toml:"bind_address" yaml:"bind_address"`
	Port           int      `mapstructure:"port" toml:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
}

// Server and engine constants
const (
	DefaultServerPort       = 8787
	DefaultPollIntervalMS   = 3000
	DefaultJobPauseMS       = 500
	DefaultCredentialID     = "default"
	DefaultRequestTimeout   = 30
	DefaultBalanceTimeout   = 10
	DefaultHubBaseURL       = "https://www.runninghub.ai"
	DefaultDatabaseFilename = "hubrun.db"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
	SecretFilePermissions  = 0600 // Config files holding api keys
)

// EffectiveCredentials returns the configured credential pool.
// When no [[credentials]] are configured, hub.api_key (HUBRUN_API_KEY) becomes
// a single credential with concurrency 1.
func (c *Config) EffectiveCredentials() []CredentialConfig {
	if len(c.Credentials) > 0 {
		return c.Credentials
	}
	if c.Hub.APIKey == "" {
		return nil
	}
	return []CredentialConfig{{ID: DefaultCredentialID, APIKey: c.Hub.APIKey, Concurrency: 1}}
}

// PollInterval is the pause between two polls of the same remote task
func (p PulseConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// JobPause is the pause a worker takes between jobs
func (p PulseConfig) JobPause() time.Duration {
	return time.Duration(p.JobPauseMS) * time.Millisecond
}

// BalanceTimeout bounds each best-effort balance query
func (p PulseConfig) BalanceTimeout() time.Duration {
	return time.Duration(p.BalanceTimeoutSeconds) * time.Second
}

// RequestTimeout bounds every single call to the hub
func (h HubConfig) RequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeoutSeconds) * time.Second
}

// HomeDir returns ~/.hubrun, or "" when the home directory is unknown
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hubrun")
}

// ExpandPath resolves a leading ~ against the user's home directory
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
