package source

import (
	"fmt"
	"time"
)

// SourceUnavailableError means the activity daemon could not be reached.
// The cycle is skipped and the checkpoint left untouched.
type SourceUnavailableError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// BucketError reports a failure confined to one bucket
type BucketError struct {
	BucketID   string
	Message    string
	StatusCode int
	Err        error
}

func (e *BucketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bucket %s: %s: %v", e.BucketID, e.Message, e.Err)
	}
	return fmt.Sprintf("bucket %s: %s", e.BucketID, e.Message)
}

func (e *BucketError) Unwrap() error {
	return e.Err
}

// PageLimitError reports that the page cap was reached before the start of
// the requested window. Events older than Oldest were not fetched.
type PageLimitError struct {
	BucketID string
	Pages    int
	Oldest   time.Time
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("bucket %s: page limit of %d reached at %s", e.BucketID, e.Pages, e.Oldest.Format(time.RFC3339))
}
