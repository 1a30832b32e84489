package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"
	_ "modernc.org/sqlite"

	"github.com/tenwire/imscrawl/internal/common"
)

// DB wraps the pure-Go modernc.org/sqlite connection backing every store in
// this package, plus the goqite dispatch-queue schema the job orchestrator
// enqueues onto.
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
	config common.StorageConfig
}

// Open creates the SQLite connection, initializes the goqite queue schema,
// applies pragmas, and runs the domain schema migration.
func Open(logger arbor.ILogger, config common.StorageConfig) (*DB, error) {
	dir := filepath.Dir(config.SQLitePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if config.ResetOnStartup {
		if err := resetDatabase(logger, config.SQLitePath); err != nil {
			return nil, fmt.Errorf("failed to reset database: %w", err)
		}
	}

	logger.Debug().Str("path", config.SQLitePath).Msg("opening sqlite connection")

	// modernc.org/sqlite registers the driver under the name "sqlite".
	sqlDB, err := sql.Open("sqlite", config.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite does not handle concurrent writers well; funnel everything
	// through a single connection and let busy_timeout absorb contention.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB, logger: logger, config: config}

	if err := goqite.Setup(context.Background(), sqlDB); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to initialize goqite schema: %w", err)
		}
	}

	if err := d.configure(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := InitSchema(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", config.SQLitePath).Msg("sqlite database initialized")
	return d, nil
}

func (d *DB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", d.config.CacheSizeMB*1024),
		fmt.Sprintf("PRAGMA busy_timeout = %d", d.config.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if d.config.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB handle for store/queue constructors.
func (d *DB) DB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// resetDatabase deletes the database file and its WAL/SHM siblings. Intended
// for development/test setup only; callers gate this behind config.
func resetDatabase(logger arbor.ILogger, dbPath string) error {
	logger.Warn().Str("path", dbPath).Msg("resetting database (deleting all data)")

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return nil
}
