package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/checkpoint"
	"Mansoor88-6/aw-sync-agent/internal/classifier"
	"Mansoor88-6/aw-sync-agent/internal/client"
	"Mansoor88-6/aw-sync-agent/internal/config"
	"Mansoor88-6/aw-sync-agent/internal/database"
	"Mansoor88-6/aw-sync-agent/internal/lock"
	"Mansoor88-6/aw-sync-agent/internal/metrics"
	"Mansoor88-6/aw-sync-agent/internal/models"
	"Mansoor88-6/aw-sync-agent/internal/pipeline"
	"Mansoor88-6/aw-sync-agent/internal/privacy"
	"Mansoor88-6/aw-sync-agent/internal/queue"
	"Mansoor88-6/aw-sync-agent/internal/source"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	buckets   []models.Bucket
	events    map[string][]models.RawEvent
	listErr   error
	bucketErr map[string]error
	since     []time.Time
	pushed    [][]models.CategoryRule
	// pageCap emulates the client page limit: only the newest pageCap events are returned
	pageCap int
}

func (f *fakeSource) ListBuckets(context.Context) ([]models.Bucket, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.buckets, nil
}

func (f *fakeSource) FetchAllEvents(_ context.Context, bucketID string, since, until time.Time, _ int) ([]models.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if err := f.bucketErr[bucketID]; err != nil {
		return nil, err
	}
	var out []models.RawEvent
	for _, ev := range f.events[bucketID] {
		if !ev.Timestamp.Before(since) && ev.Timestamp.Before(until) {
			out = append(out, ev)
		}
	}
	if f.pageCap > 0 && len(out) > f.pageCap {
		out = out[len(out)-f.pageCap:]
		return out, &source.PageLimitError{BucketID: bucketID, Pages: 1, Oldest: out[0].Timestamp}
	}
	return out, nil
}

func (f *fakeSource) PushCategories(_ context.Context, rules []models.CategoryRule) error {
	f.pushed = append(f.pushed, rules)
	return nil
}

type fakeUploader struct {
	mu         sync.Mutex
	err        error
	uploads    [][]models.NormalizedRecord
	categories *models.CategoryResponse
}

func (f *fakeUploader) Upload(_ context.Context, _ string, records []models.NormalizedRecord) client.UploadResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(records) == 0 {
		return client.UploadResult{Success: true}
	}
	f.uploads = append(f.uploads, records)
	if f.err != nil {
		return client.UploadResult{Err: f.err, Remaining: records}
	}
	return client.UploadResult{Success: true, AcceptedCount: len(records), Batches: 1}
}

func (f *fakeUploader) FetchCategories(context.Context, string) (*models.CategoryResponse, error) {
	if f.categories == nil {
		return nil, errors.New("categories unavailable")
	}
	return f.categories, nil
}

type fixedHours bool

func (h fixedHours) InWorkHours(time.Time) bool { return bool(h) }

type harness struct {
	svc      *SyncService
	cfg      *config.Config
	source   *fakeSource
	uploader *fakeUploader
	store    *checkpoint.Store
	spool    *queue.RecordQueue
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := &config.Config{
		StateDir:                t.TempDir(),
		BatchSize:               100,
		SyncIntervalMinutes:     30,
		WindowOverlapMinutes:    5,
		SourceRetentionHours:    168,
		SpoolMaxRetries:         2,
		AuthEscalationThreshold: 2,
		UserInfo:                config.UserInfo{Email: "dev@example.com"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.New(context.Background(), filepath.Join(cfg.StateDir, "state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	filter, err := privacy.NewFilter(config.Privacy{ExcludeKeywords: []string{"password"}}, nil)
	require.NoError(t, err)
	cls := classifier.New(filter, zap.NewNop())

	h := &harness{
		cfg: cfg,
		source: &fakeSource{
			buckets: []models.Bucket{{ID: "aw-watcher-window_host", Type: "currentwindow"}},
			events: map[string][]models.RawEvent{
				"aw-watcher-window_host": windowEvents(),
			},
		},
		uploader: &fakeUploader{},
		store:    checkpoint.NewStore(db, zap.NewNop()),
		spool:    queue.NewRecordQueue(db.DB, zap.NewNop()),
	}

	components := Components{
		Source:      h.source,
		Uploader:    h.uploader,
		Classifier:  cls,
		Transformer: pipeline.NewTransformer(filter, cls, "user-1", "host", zap.NewNop()),
		Store:       h.store,
		WorkHours:   filter,
		Metrics:     metrics.New(),
		Tracer:      noop.NewTracerProvider().Tracer("test"),
	}
	if cfg.SpoolFailedBatches {
		components.Spool = h.spool
	}

	h.svc = NewSyncService(cfg, components, zap.NewNop())
	h.svc.now = func() time.Time { return now }
	return h
}

func windowEvents() []models.RawEvent {
	ids := []int64{1, 2, 3}
	return []models.RawEvent{
		{ID: &ids[0], Timestamp: now.Add(-2 * time.Hour), Duration: 60, Data: map[string]any{"app": "Code", "title": "main.go"}},
		{ID: &ids[1], Timestamp: now.Add(-90 * time.Minute), Duration: 60, Data: map[string]any{"app": "Chrome", "title": "Password reset"}},
		{ID: &ids[2], Timestamp: now.Add(-time.Hour), Duration: 60, Data: map[string]any{"app": "Slack", "title": "standup"}},
	}
}

func (h *harness) state(t *testing.T) models.SyncState {
	t.Helper()
	state, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return state
}

func TestFirstCycleAdvancesCheckpointToWindowEnd(t *testing.T) {
	h := newHarness(t, nil)

	report := h.svc.RunCycle(context.Background())

	require.Equal(t, models.SyncStatusSuccess, report.Status, report.Reason)
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.True(t, report.Since.Equal(now.Add(-24*time.Hour)))
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 1, report.Excluded)

	state := h.state(t)
	require.NotNil(t, state.LastSyncTime)
	assert.True(t, state.LastSyncTime.Equal(now))
	assert.Equal(t, models.SyncStatusSuccess, state.LastStatus)

	status, err := checkpoint.ReadStatusFile(h.cfg.StatusFilePath())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, status.LastStatus)
	assert.Equal(t, "dev@example.com", status.UserEmail)
	assert.Equal(t, report.SessionID, status.SessionID)
}

func TestPageLimitNarrowsWindowWithoutLosingEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.source.pageCap = 2
	ctx := context.Background()

	first := h.svc.RunCycle(ctx)
	require.Equal(t, models.SyncStatusSuccess, first.Status, first.Reason)
	assert.True(t, first.Until.Before(now))

	state := h.state(t)
	require.NotNil(t, state.LastSyncTime)
	assert.True(t, state.LastSyncTime.Equal(first.Until))

	for i := 0; i < 20 && !h.state(t).LastSyncTime.Equal(now); i++ {
		report := h.svc.RunCycle(ctx)
		require.Equal(t, models.SyncStatusSuccess, report.Status, report.Reason)
	}
	require.True(t, h.state(t).LastSyncTime.Equal(now))

	uploaded := map[string]bool{}
	for _, batch := range h.uploader.uploads {
		for _, r := range batch {
			uploaded[r.WindowTitle] = true
		}
	}
	assert.Equal(t, map[string]bool{"main.go": true, "standup": true}, uploaded)
}

func TestServerFailureLeavesCheckpointUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	state := h.state(t)
	last := now.Add(-3 * time.Hour)
	state.LastSyncTime = &last
	require.NoError(t, h.store.Save(ctx, &state))

	h.uploader.err = &client.ServerError{Message: "bad gateway", StatusCode: 502}
	report := h.svc.RunCycle(ctx)
	assert.Equal(t, models.SyncStatusFailed, report.Status)
	assert.Equal(t, ExitServerError, report.ExitCode())
	require.Len(t, h.uploader.uploads, 1)

	state = h.state(t)
	require.NotNil(t, state.LastSyncTime)
	assert.True(t, state.LastSyncTime.Equal(last))
	assert.Equal(t, models.SyncStatusFailed, state.LastStatus)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.Contains(t, state.LastError, "bad gateway")
}

func TestAuthFailureIsCountedAndMapsToExitCode(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.err = &client.AuthError{Message: "invalid key", StatusCode: 401}

	for i := 0; i < 2; i++ {
		report := h.svc.RunCycle(context.Background())
		assert.Equal(t, ExitAuthError, report.ExitCode())
	}

	state := h.state(t)
	assert.Nil(t, state.LastSyncTime)
	assert.Equal(t, 2, state.ConsecutiveAuthFailures)

	h.uploader.err = nil
	report := h.svc.RunCycle(context.Background())
	require.Equal(t, models.SyncStatusSuccess, report.Status)
	assert.Zero(t, h.state(t).ConsecutiveAuthFailures)
}

func TestSourceUnavailableSkipsWithoutTouchingCheckpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.source.listErr = &source.SourceUnavailableError{Message: "connection refused"}

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, models.SyncStatusSkipped, report.Status)
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Empty(t, h.uploader.uploads)
	assert.Nil(t, h.state(t).LastSyncTime)
}

func TestEmptyWindowIsSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.source.buckets = nil

	report := h.svc.RunCycle(context.Background())

	require.Equal(t, models.SyncStatusSuccess, report.Status)
	assert.Zero(t, report.Uploaded)
	require.NotNil(t, h.state(t).LastSyncTime)
}

func TestWindowOverlapAndRetentionClamp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	state := h.state(t)
	last := now.Add(-time.Hour)
	state.LastSyncTime = &last
	require.NoError(t, h.store.Save(ctx, &state))

	report := h.svc.RunCycle(ctx)
	assert.True(t, report.Since.Equal(last.Add(-5*time.Minute)), report.Since)

	state = h.state(t)
	old := now.Add(-30 * 24 * time.Hour)
	state.LastSyncTime = &old
	require.NoError(t, h.store.Save(ctx, &state))

	report = h.svc.RunCycle(ctx)
	assert.True(t, report.Since.Equal(now.Add(-168*time.Hour)), report.Since)
}

func TestFailingBucketDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, nil)
	h.source.buckets = append(h.source.buckets,
		models.Bucket{ID: "aw-watcher-afk_host", Type: "afkstatus"},
		models.Bucket{ID: "aw-watcher-web-chrome_host", Type: "web.tab.current"},
	)
	h.source.bucketErr = map[string]error{"aw-watcher-web-chrome_host": errors.New("timeout")}

	report := h.svc.RunCycle(context.Background())

	require.Equal(t, models.SyncStatusSuccess, report.Status)
	assert.Equal(t, 1, report.BucketsFailed)
	assert.Equal(t, 2, report.Uploaded)
}

func TestSpoolResendsFailedRecordsFirst(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.SpoolFailedBatches = true })
	ctx := context.Background()

	h.uploader.err = &client.ServerError{Message: "unavailable", StatusCode: 503}
	report := h.svc.RunCycle(ctx)
	require.Equal(t, models.SyncStatusFailed, report.Status)
	assert.Equal(t, 2, report.Spooled)

	h.uploader.err = nil
	h.source.buckets = nil
	report = h.svc.RunCycle(ctx)
	require.Equal(t, models.SyncStatusSuccess, report.Status)
	assert.Equal(t, 2, report.Uploaded)
	assert.Zero(t, report.Spooled)

	count, err := h.spool.PendingCount(ctx, "dev@example.com")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSpoolDropsRecordsPastMaxRetries(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.SpoolFailedBatches = true })
	ctx := context.Background()
	h.uploader.err = &client.ServerError{Message: "unavailable", StatusCode: 503}

	h.svc.RunCycle(ctx)
	h.source.buckets = nil
	for i := 0; i < 3; i++ {
		h.svc.RunCycle(ctx)
	}

	count, err := h.spool.PendingCount(ctx, "dev@example.com")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWorkHoursGateSkipsCycle(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.SyncOnlyInWorkHours = true })
	h.svc.WorkHours = fixedHours(false)

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, models.SyncStatusSkipped, report.Status)
	assert.Empty(t, h.uploader.uploads)
	assert.Equal(t, models.SyncStatusSkipped, h.state(t).LastStatus)
}

func TestConcurrentProcessSkips(t *testing.T) {
	h := newHarness(t, nil)

	held, err := lock.TryAcquire(h.cfg.LockPath())
	require.NoError(t, err)
	defer held.Release()

	report := h.svc.RunCycle(context.Background())
	assert.Equal(t, models.SyncStatusSkipped, report.Status)
	assert.Empty(t, h.uploader.uploads)
}

func TestChangedRulesArePushedToSource(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.ApplyCategoriesToSource = true })
	h.uploader.categories = &models.CategoryResponse{Categories: []models.RemoteCategory{
		{CategoryName: "Team Chat", Rules: []models.RemoteRule{{RuleRegex: "slack"}}},
	}}

	report := h.svc.RunCycle(context.Background())
	require.Equal(t, models.SyncStatusSuccess, report.Status)
	require.Len(t, h.source.pushed, 1)

	require.Len(t, h.uploader.uploads, 1)
	var categories []string
	for _, r := range h.uploader.uploads[0] {
		categories = append(categories, r.Category)
	}
	assert.Contains(t, categories, "Team Chat")

	h.svc.RunCycle(context.Background())
	assert.Len(t, h.source.pushed, 1)
}

func TestRunStopsBetweenCycles(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.Eventually(t, func() bool { return h.svc.LastReport() != nil }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, PhaseIdle, h.svc.Phase())
}
