package service

import (
	"errors"
	"time"

	"Mansoor88-6/aw-sync-agent/internal/client"
	"Mansoor88-6/aw-sync-agent/internal/models"
)

// Phase is the orchestrator's position within a cycle
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseFetchingBuckets    Phase = "fetching_buckets"
	PhaseProcessingBuckets  Phase = "processing_buckets"
	PhaseUploading          Phase = "uploading"
	PhaseUpdatingCheckpoint Phase = "updating_checkpoint"
	PhaseFailed             Phase = "failed"
)

// Exit codes returned by the CLI for a single cycle
const (
	ExitOK          = 0
	ExitServerError = 1
	ExitConfigError = 2
	ExitAuthError   = 3
)

// CycleReport describes one completed cycle
type CycleReport struct {
	SessionID     string            `json:"session_id"`
	Status        models.SyncStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Since         time.Time         `json:"since"`
	Until         time.Time         `json:"until"`
	Buckets       int               `json:"buckets"`
	BucketsFailed int               `json:"buckets_failed"`
	Emitted       int               `json:"emitted"`
	Excluded      int               `json:"excluded"`
	Failed        int               `json:"failed"`
	Uploaded      int               `json:"uploaded"`
	Spooled       int               `json:"spooled"`
	Duration      time.Duration     `json:"duration"`
	Err           error             `json:"-"`
}

// ExitCode maps the report to the process exit code
func (r CycleReport) ExitCode() int {
	if r.Status != models.SyncStatusFailed {
		return ExitOK
	}
	var authErr *client.AuthError
	if errors.As(r.Err, &authErr) {
		return ExitAuthError
	}
	return ExitServerError
}
