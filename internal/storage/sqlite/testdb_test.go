package sqlite

import (
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
)

// setupTestDB creates a temp-file SQLite database with WAL disabled for
// simpler cleanup. Shared by every store test in this package.
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	config := common.StorageConfig{
		SQLitePath:    dbPath,
		WALMode:       false,
		CacheSizeMB:   16,
		BusyTimeoutMS: 5000,
	}

	logger := arbor.NewLogger()

	db, err := Open(logger, config)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	return db, func() {
		db.Close()
	}
}
