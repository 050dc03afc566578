package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/classifier"
	"Mansoor88-6/aw-sync-agent/internal/models"
)

// recordNamespace scopes record ids to this agent
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://activitywatch.net/aw-sync-agent/record"))

// Privacy is the subset of the privacy filter the pipeline needs
type Privacy interface {
	ShouldExclude(text string) bool
	ShouldExcludeApp(app string) bool
	ShouldExcludeURL(url, title string) bool
	RedactIfSensitive(text string) (string, bool, error)
}

// Categorizer is the subset of the classifier the pipeline needs
type Categorizer interface {
	CategorizeWindow(app, title string) string
	CategorizeURL(rawURL, title string) string
	IsProductive(app, category, rawURL string, at time.Time) bool
}

// EventFetcher loads the events of one bucket in ascending timestamp order
type EventFetcher func(ctx context.Context, bucket models.Bucket) ([]models.RawEvent, error)

// Transformer turns raw daemon events into upload-ready records
type Transformer struct {
	privacy    Privacy
	categories Categorizer
	userID     string
	hostname   string
	logger     *zap.Logger
}

// NewTransformer creates a transformer for one user on one host
func NewTransformer(privacy Privacy, categories Categorizer, userID, hostname string, logger *zap.Logger) *Transformer {
	return &Transformer{
		privacy:    privacy,
		categories: categories,
		userID:     userID,
		hostname:   hostname,
		logger:     logger,
	}
}

// Run processes every bucket in id order. A bucket that fails to fetch is
// recorded in the result and never prevents the others.
func (t *Transformer) Run(ctx context.Context, buckets []models.Bucket, fetch EventFetcher) Result {
	ordered := make([]models.Bucket, len(buckets))
	copy(ordered, buckets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var result Result
	for _, bucket := range ordered {
		events, err := fetch(ctx, bucket)
		if err != nil {
			t.logger.Warn("Skipping bucket",
				zap.String("bucket", bucket.ID),
				zap.Error(err))
			result.add(BucketResult{Bucket: bucket, Err: err})
			continue
		}

		br := t.TransformBucket(bucket, events)
		t.logger.Debug("Bucket processed",
			zap.String("bucket", bucket.ID),
			zap.String("kind", string(bucket.Kind())),
			zap.Int("emitted", br.Emitted),
			zap.Int("excluded", br.Excluded),
			zap.Int("failed", br.Failed))
		result.add(br)
	}
	return result
}

// TransformBucket normalizes the events of a single bucket, preserving order
func (t *Transformer) TransformBucket(bucket models.Bucket, events []models.RawEvent) BucketResult {
	br := BucketResult{Bucket: bucket}
	perTimestamp := make(map[int64]int)

	for _, ev := range events {
		key := ev.Timestamp.UnixNano()
		seq := perTimestamp[key]
		perTimestamp[key] = seq + 1

		br.add(t.transform(bucket, ev, seq))
	}
	return br
}

func (t *Transformer) transform(bucket models.Bucket, ev models.RawEvent, seq int) (item ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			item = ItemResult{Outcome: Failed, Err: fmt.Errorf("panic transforming event: %v", r)}
		}
	}()

	title := ev.String("title")
	rawURL := ev.String("url")
	var app, category, afkStatus string

	switch bucket.Kind() {
	case models.BucketKindWeb:
		app = "Browser"
		if t.privacy.ShouldExclude(title) || t.privacy.ShouldExclude(rawURL) || t.privacy.ShouldExcludeURL(rawURL, title) {
			return ItemResult{Outcome: Excluded, Reason: "url or keyword"}
		}
		if browser := browserName(bucket); browser != "" && t.privacy.ShouldExcludeApp(browser) {
			return ItemResult{Outcome: Excluded, Reason: "application"}
		}
		category = t.categories.CategorizeURL(rawURL, title)

	case models.BucketKindAFK:
		app = "AFK"
		afkStatus = ev.String("status")
		title = afkStatus
		rawURL = ""
		category = classifier.CategoryActive
		if afkStatus == "afk" {
			category = classifier.CategoryAway
		}

	default:
		app = ev.String("app")
		if app == "" {
			app = "Unknown"
		}
		if t.privacy.ShouldExclude(title) || t.privacy.ShouldExclude(app) {
			return ItemResult{Outcome: Excluded, Reason: "keyword"}
		}
		// window watchers report the active tab url for some browsers
		if rawURL != "" && (t.privacy.ShouldExclude(rawURL) || t.privacy.ShouldExcludeURL(rawURL, title)) {
			return ItemResult{Outcome: Excluded, Reason: "url or keyword"}
		}
		category = t.categories.CategorizeWindow(app, title)
	}

	if t.privacy.ShouldExcludeApp(app) {
		return ItemResult{Outcome: Excluded, Reason: "application"}
	}

	displayTitle, _, err := t.privacy.RedactIfSensitive(title)
	if err != nil {
		return ItemResult{Outcome: Failed, Err: fmt.Errorf("failed to redact title: %w", err)}
	}
	displayURL, _, err := t.privacy.RedactIfSensitive(rawURL)
	if err != nil {
		return ItemResult{Outcome: Failed, Err: fmt.Errorf("failed to redact url: %w", err)}
	}

	record := models.NormalizedRecord{
		RecordID:        t.recordID(bucket.ID, ev, seq),
		UserID:          t.userID,
		Timestamp:       ev.Timestamp.UTC(),
		DurationSeconds: ev.DurationSeconds(),
		Application:     app,
		WindowTitle:     displayTitle,
		Category:        category,
		IsProductive:    t.categories.IsProductive(app, category, rawURL, ev.Timestamp),
		Hostname:        t.hostname,
		ProjectTag:      ev.String("project"),
		Metadata: models.RecordMetadata{
			Bucket:    bucket.ID,
			URL:       displayURL,
			AFKStatus: afkStatus,
			TabCount:  ev.Int("tabCount"),
			Audible:   ev.Bool("audible"),
			Incognito: ev.Bool("incognito"),
		},
	}
	if bucket.Hostname != "" {
		record.Hostname = bucket.Hostname
	}
	if ev.ID != nil {
		record.Metadata.OriginalID = strconv.FormatInt(*ev.ID, 10)
	}

	return ItemResult{Outcome: Emitted, Record: record}
}

// recordID is a name-based UUID so reprocessing an event yields the same id
func (t *Transformer) recordID(bucketID string, ev models.RawEvent, seq int) string {
	var name string
	if ev.ID != nil {
		name = fmt.Sprintf("%s|%s|id:%d", t.userID, bucketID, *ev.ID)
	} else {
		name = fmt.Sprintf("%s|%s|ts:%s|%d", t.userID, bucketID, ev.Timestamp.UTC().Format(time.RFC3339Nano), seq)
	}
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// browserName extracts the browser from a web watcher bucket id such as
// "aw-watcher-web-chrome_host".
func browserName(bucket models.Bucket) string {
	id := strings.ToLower(bucket.ID)
	_, rest, ok := strings.Cut(id, "aw-watcher-web-")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "_")
	return name
}
