package storage

import (
	"errors"
	"strings"

	"github.com/dyike/CortexQuant/config"
)

// ErrDBPathNotConfigured indicates config.DBPath is empty.
var ErrDBPathNotConfigured = errors.New("db_path is not configured")

// OpenFromConfig opens the store at cfg.DBPath.
func OpenFromConfig(cfg *config.Config) (*Store, error) {
	dbPath := strings.TrimSpace(cfg.DBPath)
	if dbPath == "" {
		return nil, ErrDBPathNotConfigured
	}
	return Open(dbPath)
}
