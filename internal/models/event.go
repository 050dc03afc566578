package models

import (
	"strings"
	"time"
)

// BucketKind classifies a bucket by the surface it monitors
type BucketKind string

const (
	BucketKindWindow BucketKind = "window"
	BucketKindWeb    BucketKind = "web"
	BucketKindAFK    BucketKind = "afk"
)

// Bucket is a named stream of events reported by the activity daemon
type Bucket struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Client   string `json:"client"`
	Hostname string `json:"hostname"`
}

// Kind derives the bucket kind from its type, falling back to its id
func (b Bucket) Kind() BucketKind {
	typ := strings.ToLower(b.Type)
	id := strings.ToLower(b.ID)

	switch {
	case strings.Contains(typ, "web") || strings.Contains(id, "web"):
		return BucketKindWeb
	case typ == "afkstatus" || strings.Contains(id, "afk"):
		return BucketKindAFK
	default:
		return BucketKindWindow
	}
}

// RawEvent is a single event as reported by the activity daemon
type RawEvent struct {
	ID        *int64         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  float64        `json:"duration"` // seconds
	Data      map[string]any `json:"data"`
}

// String returns a string field from the event payload
func (e RawEvent) String(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns a boolean field from the event payload
func (e RawEvent) Bool(key string) bool {
	if e.Data == nil {
		return false
	}
	v, _ := e.Data[key].(bool)
	return v
}

// Int returns a numeric field from the event payload
func (e RawEvent) Int(key string) int {
	if e.Data == nil {
		return 0
	}
	switch v := e.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// DurationSeconds returns the event duration, clamped to zero
func (e RawEvent) DurationSeconds() float64 {
	if e.Duration < 0 {
		return 0
	}
	return e.Duration
}
