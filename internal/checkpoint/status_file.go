package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

// StatusFile is the human-readable mirror of the last cycle
type StatusFile struct {
	LastSyncTime *time.Time        `json:"last_sync_time"`
	LastStatus   models.SyncStatus `json:"last_status"`
	Error        string            `json:"error,omitempty"`
	EventsSynced int               `json:"events_synced"`
	UserEmail    string            `json:"user_email"`
	NextSync     *time.Time        `json:"next_sync,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
}

// WriteStatusFile replaces path atomically via a temp file and rename
func WriteStatusFile(path string, status StatusFile) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close status: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}

// ReadStatusFile loads a status mirror written by WriteStatusFile
func ReadStatusFile(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status file: %w", err)
	}
	return &status, nil
}
