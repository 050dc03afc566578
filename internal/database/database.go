package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB is the local state database shared by the checkpoint store and the spool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// New opens (creating if needed) the SQLite database at path and migrates it
func New(ctx context.Context, path string, logger *zap.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Database connection established", zap.String("path", path))
	return database, nil
}

// migrations are applied in order; each index+1 is its schema version
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_time TEXT,
		last_status TEXT NOT NULL DEFAULT 'never',
		last_error TEXT NOT NULL DEFAULT '',
		events_synced INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		consecutive_auth_failures INTEGER NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO sync_state (id) VALUES (1)`,

	`CREATE TABLE IF NOT EXISTS category_rules (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		team_id TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		rules TEXT NOT NULL,
		fetched_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS pending_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL UNIQUE,
		record_data TEXT NOT NULL,
		user_email TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_attempt INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_pending_records_email ON pending_records(user_email, created_at)`,

	`CREATE TABLE IF NOT EXISTS local_keys (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("migration table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}

	if current < len(migrations) {
		db.logger.Info("Database migrations completed",
			zap.Int("from_version", current),
			zap.Int("to_version", len(migrations)))
	}
	return nil
}

// Close closes the database
func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.logger.Debug("Database connection closed")
	return nil
}
