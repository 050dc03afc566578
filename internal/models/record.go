package models

import "time"

// FilteredSentinel replaces redacted values in sentinel privacy mode
const FilteredSentinel = "[FILTERED]"

// NormalizedRecord is the unit uploaded to the remote analytics store
type NormalizedRecord struct {
	RecordID        string         `json:"record_id"`
	UserID          string         `json:"user_id"`
	Timestamp       time.Time      `json:"timestamp"`
	DurationSeconds float64        `json:"duration_seconds"`
	Application     string         `json:"application"`
	WindowTitle     string         `json:"window_title"`
	Category        string         `json:"category"`
	IsProductive    bool           `json:"is_productive"`
	Hostname        string         `json:"hostname"`
	ProjectTag      string         `json:"project_tag,omitempty"`
	Metadata        RecordMetadata `json:"metadata"`
}

// RecordMetadata carries source details alongside a record
type RecordMetadata struct {
	Bucket     string `json:"bucket"`
	URL        string `json:"url,omitempty"`
	OriginalID string `json:"original_id,omitempty"`
	AFKStatus  string `json:"afk_status,omitempty"`
	TabCount   int    `json:"tab_count,omitempty"`
	Audible    bool   `json:"audible,omitempty"`
	Incognito  bool   `json:"incognito,omitempty"`
}

// SyncRequest is the body of a POST to the sync endpoint
type SyncRequest struct {
	UserEmail string             `json:"user_email"`
	Events    []NormalizedRecord `json:"events"`
}
