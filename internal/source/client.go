package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

const maxErrorBody = 512

// Client talks to the local ActivityWatch daemon
type Client struct {
	baseURL    string
	maxPages   int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a daemon client. maxPages bounds backwards pagination per bucket.
func NewClient(baseURL string, timeout time.Duration, maxPages int, logger *zap.Logger) *Client {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxPages: maxPages,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Info is the daemon's self description
type Info struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Testing  bool   `json:"testing"`
	DeviceID string `json:"device_id"`
}

// Ping checks the daemon is reachable and returns its info
func (c *Client) Ping(ctx context.Context) (*Info, error) {
	body, status, err := c.get(ctx, "/api/0/info", nil)
	if err != nil {
		return nil, &SourceUnavailableError{Message: "activity daemon unreachable", Err: err}
	}
	if status != http.StatusOK {
		return nil, &SourceUnavailableError{
			Message:    fmt.Sprintf("activity daemon returned status %d: %s", status, truncate(body)),
			StatusCode: status,
		}
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse daemon info: %w", err)
	}
	return &info, nil
}

// ListBuckets returns every bucket the daemon knows about, sorted by id
func (c *Client) ListBuckets(ctx context.Context) ([]models.Bucket, error) {
	body, status, err := c.get(ctx, "/api/0/buckets/", nil)
	if err != nil {
		return nil, &SourceUnavailableError{Message: "failed to list buckets", Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &SourceUnavailableError{
			Message:    fmt.Sprintf("bucket listing returned status %d: %s", status, truncate(body)),
			StatusCode: status,
		}
	}

	var byID map[string]models.Bucket
	if err := json.Unmarshal(body, &byID); err != nil {
		return nil, &SourceUnavailableError{Message: "failed to parse bucket listing", Err: err}
	}

	buckets := make([]models.Bucket, 0, len(byID))
	for id, b := range byID {
		if b.ID == "" {
			b.ID = id
		}
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].ID < buckets[j].ID })

	c.logger.Debug("Listed buckets", zap.Int("count", len(buckets)))
	return buckets, nil
}

// FetchEvents returns one page of events in [since, until), newest first as the daemon sends them
func (c *Client) FetchEvents(ctx context.Context, bucketID string, since, until time.Time, limit int) ([]models.RawEvent, error) {
	query := url.Values{}
	query.Set("start", since.UTC().Format(time.RFC3339Nano))
	query.Set("end", until.UTC().Format(time.RFC3339Nano))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/0/buckets/" + url.PathEscape(bucketID) + "/events"
	body, status, err := c.get(ctx, path, query)
	if err != nil {
		return nil, &BucketError{BucketID: bucketID, Message: "request failed", Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &BucketError{
			BucketID:   bucketID,
			Message:    fmt.Sprintf("daemon returned status %d: %s", status, truncate(body)),
			StatusCode: status,
		}
	}

	var events []models.RawEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, &BucketError{BucketID: bucketID, Message: "failed to parse events", Err: err}
	}
	return events, nil
}

// FetchAllEvents pages backwards through [since, until) and returns the events
// in ascending timestamp order, de-duplicated by original id. When the page cap
// is hit first, the events fetched so far are returned with a *PageLimitError.
func (c *Client) FetchAllEvents(ctx context.Context, bucketID string, since, until time.Time, limit int) ([]models.RawEvent, error) {
	var all []models.RawEvent
	var truncated error
	seen := make(map[int64]struct{})
	end := until

	for page := 0; page < c.maxPages; page++ {
		events, err := c.FetchEvents(ctx, bucketID, since, end, limit)
		if err != nil {
			return nil, err
		}

		oldest := end
		for _, ev := range events {
			if ev.ID != nil {
				if _, dup := seen[*ev.ID]; dup {
					continue
				}
				seen[*ev.ID] = struct{}{}
			}
			all = append(all, ev)
			if ev.Timestamp.Before(oldest) {
				oldest = ev.Timestamp
			}
		}

		if limit <= 0 || len(events) < limit {
			break
		}
		if !oldest.Before(end) {
			// no progress possible
			break
		}
		if page == c.maxPages-1 {
			c.logger.Debug("Bucket page limit reached",
				zap.String("bucket", bucketID),
				zap.Int("pages", c.maxPages),
				zap.Time("oldest", oldest))
			truncated = &PageLimitError{BucketID: bucketID, Pages: c.maxPages, Oldest: oldest}
		}
		end = oldest
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, truncated
}

type awCategory struct {
	Name []string `json:"name"`
	Rule awRule   `json:"rule"`
}

type awRule struct {
	Type       string `json:"type"`
	Regex      string `json:"regex"`
	IgnoreCase bool   `json:"ignore_case"`
}

// PushCategories mirrors the team's rules into the daemon's own categorization settings
func (c *Client) PushCategories(ctx context.Context, rules []models.CategoryRule) error {
	payload := make([]awCategory, 0, len(rules))
	for _, r := range rules {
		if len(r.Patterns) == 0 {
			continue
		}
		parts := make([]string, len(r.Patterns))
		for i, p := range r.Patterns {
			parts[i] = "(" + p + ")"
		}
		payload = append(payload, awCategory{
			Name: []string{r.Name},
			Rule: awRule{Type: "regex", Regex: strings.Join(parts, "|"), IgnoreCase: true},
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/0/settings/categories", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SourceUnavailableError{Message: "failed to push categories", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("category push returned status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Info("Pushed categories to activity daemon", zap.Int("categories", len(payload)))
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Daemon request failed",
			zap.String("path", path),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
