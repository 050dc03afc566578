package models

import "time"

// SyncStatus is the outcome of the last completed cycle
type SyncStatus string

const (
	SyncStatusNever   SyncStatus = "never"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
)

// SyncState is the persisted checkpoint
type SyncState struct {
	LastSyncTime            *time.Time `json:"last_sync_time"`
	LastStatus              SyncStatus `json:"last_status"`
	LastError               string     `json:"error,omitempty"`
	EventsSynced            int        `json:"events_synced"`
	ConsecutiveFailures     int        `json:"consecutive_failures"`
	ConsecutiveAuthFailures int        `json:"consecutive_auth_failures"`
	Generation              int64      `json:"generation"`
	UpdatedAt               time.Time  `json:"updated_at"`
}
