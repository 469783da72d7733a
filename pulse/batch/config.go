package batch

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/hubrun/sym"
)

// Config is everything the engine needs besides jobs and credentials.
// It is passed in explicitly; the engine reads no global settings.
type Config struct {
	PollInterval     time.Duration // between polls of one task
	JobPause         time.Duration // between jobs on one worker
	BalanceTimeout   time.Duration // per balance query at start and end
	SubmitsPerMinute int           // per credential, 0 = unpaced
	CostPerJob       float64       // credits, for the budget guard
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:   3 * time.Second,
		JobPause:       500 * time.Millisecond,
		BalanceTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.JobPause < 0 {
		c.JobPause = 0
	}
	if c.BalanceTimeout <= 0 {
		c.BalanceTimeout = d.BalanceTimeout
	}
	return c
}

// newPacers builds one submit limiter per distinct credential id, shared by
// every worker on that credential. Nil when pacing is off.
func newPacers(creds []Credential, submitsPerMinute int) map[string]*rate.Limiter {
	if submitsPerMinute <= 0 {
		return nil
	}
	pacers := make(map[string]*rate.Limiter)
	for _, c := range creds {
		if _, ok := pacers[c.ID]; !ok {
			pacers[c.ID] = rate.NewLimiter(rate.Limit(float64(submitsPerMinute)/60.0), 1)
		}
	}
	return pacers
}

// pulseLogger wraps zap.SugaredLogger with special methods for batch operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ batch start, worker spawn)
// - WARN level → CLOSING (❀ batch end, cancellation)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general batch/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}
