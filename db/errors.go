package db

import (
	"strings"

	"github.com/teranos/hubrun/errors"
)

// ErrDatabaseClosed is returned when the ledger is used after shutdown closed it.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks for ErrDatabaseClosed or the raw driver message.
// The driver returns its own error values, so the message fallback is needed.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
