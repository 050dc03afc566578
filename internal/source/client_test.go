package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func makeEvents(n int) []models.RawEvent {
	events := make([]models.RawEvent, n)
	for i := range events {
		id := int64(i + 1)
		events[i] = models.RawEvent{
			ID:        &id,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Duration:  30,
			Data:      map[string]any{"app": "Code", "title": "main.go"},
		}
	}
	return events
}

// fakeDaemon serves events newest first, honouring start, end and limit
func fakeDaemon(t *testing.T, events []models.RawEvent, requests *int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/buckets/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/0/buckets/" {
			_ = json.NewEncoder(w).Encode(map[string]models.Bucket{
				"aw-watcher-window_host": {ID: "aw-watcher-window_host", Type: "currentwindow", Hostname: "host"},
				"aw-watcher-afk_host":    {ID: "aw-watcher-afk_host", Type: "afkstatus", Hostname: "host"},
			})
			return
		}

		if requests != nil {
			*requests++
		}
		start, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("start"))
		require.NoError(t, err)
		end, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("end"))
		require.NoError(t, err)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var page []models.RawEvent
		for _, ev := range events {
			if !ev.Timestamp.Before(start) && ev.Timestamp.Before(end) {
				page = append(page, ev)
			}
		}
		sort.Slice(page, func(i, j int) bool { return page[i].Timestamp.After(page[j].Timestamp) })
		if limit > 0 && len(page) > limit {
			page = page[:limit]
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/api/0/info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Info{Hostname: "host", Version: "v0.13.1"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListBucketsSortedByID(t *testing.T) {
	srv := fakeDaemon(t, nil, nil)
	c := NewClient(srv.URL, time.Second, 5, zap.NewNop())

	buckets, err := c.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "aw-watcher-afk_host", buckets[0].ID)
	assert.Equal(t, models.BucketKindAFK, buckets[0].Kind())
	assert.Equal(t, models.BucketKindWindow, buckets[1].Kind())
}

func TestListBucketsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, 5, zap.NewNop())
	_, err := c.ListBuckets(context.Background())

	var unavailable *SourceUnavailableError
	require.True(t, errors.As(err, &unavailable))
}

func TestListBucketsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5, zap.NewNop())
	_, err := c.ListBuckets(context.Background())

	var unavailable *SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusInternalServerError, unavailable.StatusCode)
}

func TestFetchAllEventsPagesBackwards(t *testing.T) {
	requests := 0
	srv := fakeDaemon(t, makeEvents(25), &requests)
	c := NewClient(srv.URL, time.Second, 10, zap.NewNop())

	events, err := c.FetchAllEvents(context.Background(), "aw-watcher-window_host", base, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 25)
	assert.Equal(t, 3, requests)

	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].Timestamp.Before(events[i].Timestamp))
	}
	assert.Equal(t, int64(1), *events[0].ID)
}

func TestFetchAllEventsReportsPageLimit(t *testing.T) {
	srv := fakeDaemon(t, makeEvents(25), nil)
	c := NewClient(srv.URL, time.Second, 2, zap.NewNop())

	events, err := c.FetchAllEvents(context.Background(), "aw-watcher-window_host", base, base.Add(time.Hour), 10)

	var limitErr *PageLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "aw-watcher-window_host", limitErr.BucketID)
	assert.Equal(t, 2, limitErr.Pages)
	require.Len(t, events, 20)
	assert.Equal(t, int64(6), *events[0].ID)
	assert.True(t, limitErr.Oldest.Equal(events[0].Timestamp))
}

func TestFetchAllEventsExactPageCountIsNotTruncated(t *testing.T) {
	srv := fakeDaemon(t, makeEvents(15), nil)
	c := NewClient(srv.URL, time.Second, 2, zap.NewNop())

	events, err := c.FetchAllEvents(context.Background(), "aw-watcher-window_host", base, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, events, 15)
}

func TestFetchEventsBucketError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such bucket", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5, zap.NewNop())
	_, err := c.FetchAllEvents(context.Background(), "missing", base, base.Add(time.Hour), 10)

	var bucketErr *BucketError
	require.ErrorAs(t, err, &bucketErr)
	assert.Equal(t, "missing", bucketErr.BucketID)
	assert.Equal(t, http.StatusNotFound, bucketErr.StatusCode)
}

func TestPing(t *testing.T) {
	srv := fakeDaemon(t, nil, nil)
	c := NewClient(srv.URL+"/", time.Second, 5, zap.NewNop())

	info, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host", info.Hostname)
}

func TestPushCategoriesSendsCombinedRegex(t *testing.T) {
	var got []awCategory
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/0/settings/categories", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5, zap.NewNop())
	err := c.PushCategories(context.Background(), []models.CategoryRule{
		{Name: "Dev", Patterns: []string{"code", "goland"}},
		{Name: "Empty"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Dev"}, got[0].Name)
	assert.Equal(t, "(code)|(goland)", got[0].Rule.Regex)
	assert.True(t, got[0].Rule.IgnoreCase)
}
