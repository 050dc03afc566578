package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/database"
	"Mansoor88-6/aw-sync-agent/internal/models"
)

// ErrStaleState is returned when another writer advanced the checkpoint first
var ErrStaleState = errors.New("sync state was modified concurrently")

const timeLayout = time.RFC3339Nano

// Store persists the sync checkpoint, the cached rule set and local keys
type Store struct {
	db     *database.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a store over an open database
func NewStore(db *database.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Load returns the current sync state
func (s *Store) Load(ctx context.Context) (models.SyncState, error) {
	var (
		state    models.SyncState
		lastSync sql.NullString
		status   string
		updated  string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_time, last_status, last_error, events_synced,
		       consecutive_failures, consecutive_auth_failures, generation, updated_at
		FROM sync_state WHERE id = 1
	`).Scan(&lastSync, &status, &state.LastError, &state.EventsSynced,
		&state.ConsecutiveFailures, &state.ConsecutiveAuthFailures, &state.Generation, &updated)
	if err != nil {
		return state, fmt.Errorf("failed to load sync state: %w", err)
	}

	state.LastStatus = models.SyncStatus(status)
	if lastSync.Valid && lastSync.String != "" {
		t, err := time.Parse(timeLayout, lastSync.String)
		if err != nil {
			return state, fmt.Errorf("corrupt last_sync_time %q: %w", lastSync.String, err)
		}
		state.LastSyncTime = &t
	}
	if updated != "" {
		state.UpdatedAt, _ = time.Parse(timeLayout, updated)
	}
	return state, nil
}

// Save writes state if nobody else has written since it was loaded.
// On success state.Generation and state.UpdatedAt are advanced.
func (s *Store) Save(ctx context.Context, state *models.SyncState) error {
	var lastSync any
	if state.LastSyncTime != nil {
		lastSync = state.LastSyncTime.UTC().Format(timeLayout)
	}
	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_state
		SET last_sync_time = ?, last_status = ?, last_error = ?, events_synced = ?,
		    consecutive_failures = ?, consecutive_auth_failures = ?,
		    generation = generation + 1, updated_at = ?
		WHERE id = 1 AND generation = ?
	`, lastSync, string(state.LastStatus), state.LastError, state.EventsSynced,
		state.ConsecutiveFailures, state.ConsecutiveAuthFailures,
		now.Format(timeLayout), state.Generation)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	if n == 0 {
		return ErrStaleState
	}

	state.Generation++
	state.UpdatedAt = now
	return nil
}

// LoadRuleSet returns the cached rule set, nil if none has been stored
func (s *Store) LoadRuleSet(ctx context.Context) (*models.RuleSet, error) {
	var (
		rs        models.RuleSet
		rules     string
		fetchedAt string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT team_id, fingerprint, rules, fetched_at FROM category_rules WHERE id = 1
	`).Scan(&rs.TeamID, &rs.Fingerprint, &rules, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached rules: %w", err)
	}

	if err := json.Unmarshal([]byte(rules), &rs.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse cached rules: %w", err)
	}
	rs.FetchedAt, _ = time.Parse(timeLayout, fetchedAt)
	return &rs, nil
}

// SaveRuleSet replaces the cached rule set
func (s *Store) SaveRuleSet(ctx context.Context, rs *models.RuleSet) error {
	rules, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO category_rules (id, team_id, fingerprint, rules, fetched_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			team_id = excluded.team_id,
			fingerprint = excluded.fingerprint,
			rules = excluded.rules,
			fetched_at = excluded.fetched_at
	`, rs.TeamID, rs.Fingerprint, string(rules), rs.FetchedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to cache rules: %w", err)
	}
	return nil
}

// LocalKey returns the named key, creating it with generate on first use
func (s *Store) LocalKey(ctx context.Context, name string, generate func() (string, error)) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_keys WHERE name = ?`, name).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read local key: %w", err)
	}

	value, err = generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate local key: %w", err)
	}

	// another process may have raced us; the first insert wins
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO local_keys (name, value, created_at) VALUES (?, ?, ?)
	`, name, value, s.now().UTC().Format(timeLayout)); err != nil {
		return "", fmt.Errorf("failed to store local key: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM local_keys WHERE name = ?`, name).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to read local key: %w", err)
	}

	s.logger.Info("Generated local key", zap.String("name", name))
	return value, nil
}
