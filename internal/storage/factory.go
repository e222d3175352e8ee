package storage

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open builds the store selected by driver
func Open(driver, dataDir string, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverFile, "":
		return NewFileStore(dataDir, logger)
	case DriverSQLite:
		return OpenSQLiteStore(dataDir, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
