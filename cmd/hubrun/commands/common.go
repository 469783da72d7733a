package commands

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/db"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/runner"
)

// errIncomplete marks a batch that ran but left jobs unfinished
var errIncomplete = errors.New("batch incomplete")

// ExitCode maps a command error to the process exit status:
// 2 for a batch that left jobs unfinished, 1 otherwise
func ExitCode(err error) int {
	if errors.Is(err, errIncomplete) {
		return 2
	}
	return 1
}

// loadConfig loads and validates the configuration cascade
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"),
			"run `hubrun am show` to see the effective configuration")
	}
	return cfg, nil
}

// openDatabase opens the ledger database named by the configuration
func openDatabase(cfg *am.Config, log *zap.SugaredLogger) (*sql.DB, error) {
	path := am.ExpandPath(cfg.Database.Path)
	database, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, errors.WithHintf(err, "check database.path (%s)", path)
	}
	return database, nil
}

// newRunner loads the configuration, opens the database and builds a Runner.
// The returned close func releases the database.
func newRunner(mutate func(*am.Config)) (*runner.Runner, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	database, err := openDatabase(cfg, logger.ComponentLogger("db"))
	if err != nil {
		return nil, nil, err
	}

	r, err := runner.New(cfg, database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return r, func() { database.Close() }, nil
}
