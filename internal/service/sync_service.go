package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/checkpoint"
	"Mansoor88-6/aw-sync-agent/internal/classifier"
	"Mansoor88-6/aw-sync-agent/internal/client"
	"Mansoor88-6/aw-sync-agent/internal/config"
	"Mansoor88-6/aw-sync-agent/internal/lock"
	"Mansoor88-6/aw-sync-agent/internal/metrics"
	"Mansoor88-6/aw-sync-agent/internal/models"
	"Mansoor88-6/aw-sync-agent/internal/pipeline"
	"Mansoor88-6/aw-sync-agent/internal/source"
)

const (
	firstSyncLookback = 24 * time.Hour
	staleRetries      = 3
	minWindow         = time.Minute
)

// Source reads buckets and events from the activity daemon
type Source interface {
	ListBuckets(ctx context.Context) ([]models.Bucket, error)
	FetchAllEvents(ctx context.Context, bucketID string, since, until time.Time, limit int) ([]models.RawEvent, error)
	PushCategories(ctx context.Context, rules []models.CategoryRule) error
}

// Uploader sends records and fetches category rules from the server
type Uploader interface {
	Upload(ctx context.Context, email string, records []models.NormalizedRecord) client.UploadResult
	FetchCategories(ctx context.Context, email string) (*models.CategoryResponse, error)
}

// StateStore persists the checkpoint and the cached rules
type StateStore interface {
	Load(ctx context.Context) (models.SyncState, error)
	Save(ctx context.Context, state *models.SyncState) error
	classifier.RuleCache
}

// Spool holds records whose upload failed
type Spool interface {
	Enqueue(ctx context.Context, email string, records []models.NormalizedRecord) error
	Dequeue(ctx context.Context, email string, limit int) ([]models.NormalizedRecord, []int64, error)
	Remove(ctx context.Context, ids []int64) error
	IncrementRetry(ctx context.Context, ids []int64) error
	PendingCount(ctx context.Context, email string) (int, error)
	DropExhausted(ctx context.Context, maxRetries int) (int64, error)
}

// Components are the collaborators of a SyncService. Spool may be nil.
type Components struct {
	Source      Source
	Uploader    Uploader
	Classifier  *classifier.Classifier
	Transformer *pipeline.Transformer
	Store       StateStore
	Spool       Spool
	WorkHours   classifier.WorkHours
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
}

// SyncService runs sync cycles: fetch, filter, classify, upload, checkpoint
type SyncService struct {
	cfg *config.Config
	Components
	logger *zap.Logger
	now    func() time.Time

	cycleMu    sync.Mutex
	phase      atomic.Value
	lastReport atomic.Pointer[CycleReport]
	continuous atomic.Bool
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *config.Config, components Components, logger *zap.Logger) *SyncService {
	s := &SyncService{
		cfg:        cfg,
		Components: components,
		logger:     logger,
		now:        time.Now,
	}
	s.phase.Store(PhaseIdle)
	return s
}

// Phase returns the current cycle phase
func (s *SyncService) Phase() Phase {
	return s.phase.Load().(Phase)
}

// LastReport returns the report of the most recent cycle, nil before the first
func (s *SyncService) LastReport() *CycleReport {
	return s.lastReport.Load()
}

func (s *SyncService) setPhase(p Phase, log *zap.Logger) {
	s.phase.Store(p)
	log.Debug("Cycle phase", zap.String("phase", string(p)))
}

// Run executes cycles every sync interval until ctx is cancelled.
// Cancellation is only observed between cycles.
func (s *SyncService) Run(ctx context.Context) error {
	s.continuous.Store(true)
	defer s.continuous.Store(false)

	interval := s.cfg.SyncInterval()
	s.logger.Info("Starting continuous sync", zap.Duration("interval", interval))

	for {
		s.RunCycle(context.WithoutCancel(ctx))

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Continuous sync stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one sync cycle and always returns a report
func (s *SyncService) RunCycle(ctx context.Context) CycleReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	started := s.now()
	report := CycleReport{SessionID: uuid.NewString()}
	log := s.logger.With(zap.String("session_id", report.SessionID))

	ctx, span := s.Tracer.Start(ctx, "sync.cycle", trace.WithAttributes(
		attribute.String("session_id", report.SessionID),
	))
	defer span.End()

	s.runCycle(ctx, &report, log)

	report.Duration = s.now().Sub(started)
	s.Metrics.ObserveCycle(string(report.Status), report.Duration)
	s.phase.Store(PhaseIdle)
	if report.Status == models.SyncStatusFailed {
		span.SetStatus(codes.Error, report.Reason)
	}
	span.SetAttributes(
		attribute.String("status", string(report.Status)),
		attribute.Int("records.uploaded", report.Uploaded),
		attribute.Int("records.excluded", report.Excluded),
	)

	fields := []zap.Field{
		zap.String("event_type", "sync_cycle"),
		zap.String("status", string(report.Status)),
		zap.Time("since", report.Since),
		zap.Time("until", report.Until),
		zap.Int("buckets", report.Buckets),
		zap.Int("buckets_failed", report.BucketsFailed),
		zap.Int("emitted", report.Emitted),
		zap.Int("excluded", report.Excluded),
		zap.Int("uploaded", report.Uploaded),
		zap.Duration("duration", report.Duration),
	}
	switch report.Status {
	case models.SyncStatusFailed:
		log.Error("Sync cycle failed", append(fields, zap.String("reason", report.Reason), zap.Error(report.Err))...)
	case models.SyncStatusSkipped:
		log.Info("Sync cycle skipped", append(fields, zap.String("reason", report.Reason))...)
	default:
		log.Info("Sync cycle completed", fields...)
	}

	s.lastReport.Store(&report)
	return report
}

func (s *SyncService) runCycle(ctx context.Context, report *CycleReport, log *zap.Logger) {
	fileLock, err := lock.TryAcquire(s.cfg.LockPath())
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			report.Status = models.SyncStatusSkipped
			report.Reason = "another sync is in progress"
			return
		}
		s.fail(report, "lock", err)
		return
	}
	defer fileLock.Release()

	state, err := s.Store.Load(ctx)
	if err != nil {
		s.fail(report, "load checkpoint", err)
		return
	}

	report.Until = s.now().UTC()
	report.Since = s.windowStart(state, report.Until, log)

	if !report.Since.Before(report.Until) {
		report.Status = models.SyncStatusSkipped
		report.Reason = "checkpoint is ahead of the local clock"
		return
	}

	if s.cfg.SyncOnlyInWorkHours && s.WorkHours != nil && !s.WorkHours.InWorkHours(report.Until) {
		report.Status = models.SyncStatusSkipped
		report.Reason = "outside work hours"
		s.finish(ctx, &state, report, log)
		return
	}

	s.refreshRules(ctx, log)

	s.setPhase(PhaseFetchingBuckets, log)
	buckets, err := s.Source.ListBuckets(ctx)
	if err != nil {
		var unavailable *source.SourceUnavailableError
		if errors.As(err, &unavailable) {
			report.Status = models.SyncStatusSkipped
			report.Reason = "activity daemon unavailable"
			report.Err = err
			log.Warn("Activity daemon unavailable, skipping cycle", zap.Error(err))
			s.finish(ctx, &state, report, log)
			return
		}
		s.fail(report, "list buckets", err)
		s.finish(ctx, &state, report, log)
		return
	}
	report.Buckets = len(buckets)

	s.setPhase(PhaseProcessingBuckets, log)
	floor := report.Since
	if state.LastSyncTime != nil && state.LastSyncTime.After(floor) {
		floor = *state.LastSyncTime
	}
	result := s.process(ctx, buckets, floor, report, log)
	report.BucketsFailed = result.BucketsFailed
	report.Emitted = result.Emitted
	report.Excluded = result.Excluded
	report.Failed = result.Failed
	s.Metrics.AddRecords(result.Emitted, result.Excluded, result.Failed)
	s.Metrics.AddBucketErrors(result.BucketsFailed)

	s.setPhase(PhaseUploading, log)
	upload := s.upload(ctx, result.Records, report, log)

	s.setPhase(PhaseUpdatingCheckpoint, log)
	if upload.Success {
		report.Status = models.SyncStatusSuccess
		report.Uploaded = upload.AcceptedCount
	} else {
		s.fail(report, "upload", upload.Err)
		report.Uploaded = upload.AcceptedCount
	}
	s.finish(ctx, &state, report, log)
}

// process transforms every bucket over [Since, Until). While a bucket hits the
// page limit the distance from floor to the window end is halved, so the
// checkpoint never passes events that were not fetched.
func (s *SyncService) process(ctx context.Context, buckets []models.Bucket, floor time.Time, report *CycleReport, log *zap.Logger) pipeline.Result {
	for {
		var truncated []string
		fetch := func(ctx context.Context, b models.Bucket) ([]models.RawEvent, error) {
			events, err := s.Source.FetchAllEvents(ctx, b.ID, report.Since, report.Until, s.cfg.BatchSize)
			var limitErr *source.PageLimitError
			if errors.As(err, &limitErr) {
				truncated = append(truncated, b.ID)
				return events, nil
			}
			return events, err
		}

		result := s.Transformer.Run(ctx, buckets, fetch)
		if len(truncated) == 0 {
			return result
		}

		span := report.Until.Sub(floor)
		if span <= minWindow {
			log.Error("Page limit reached inside the smallest window, older events in it are skipped",
				zap.Strings("buckets", truncated),
				zap.Time("since", report.Since),
				zap.Time("until", report.Until))
			return result
		}

		report.Until = floor.Add(span / 2)
		s.Metrics.WindowNarrowed()
		log.Warn("Bucket page limit reached, narrowing sync window",
			zap.Strings("buckets", truncated),
			zap.Duration("window", span/2),
			zap.Time("until", report.Until))
	}
}

// windowStart computes the start of the fetch window, clamped to the
// retention horizon of the daemon.
func (s *SyncService) windowStart(state models.SyncState, until time.Time, log *zap.Logger) time.Time {
	since := until.Add(-firstSyncLookback)
	if state.LastSyncTime != nil {
		since = state.LastSyncTime.Add(-s.cfg.WindowOverlap())
	}

	if retention := s.cfg.SourceRetention(); retention > 0 {
		horizon := until.Add(-retention)
		if since.Before(horizon) {
			log.Warn("Sync window exceeds source retention, older events may be lost",
				zap.Time("requested_since", since),
				zap.Time("clamped_since", horizon),
				zap.Duration("retention", retention))
			s.Metrics.RetentionClamped()
			since = horizon
		}
	}
	return since
}

func (s *SyncService) refreshRules(ctx context.Context, log *zap.Logger) {
	fetcher := classifier.RuleFetcherFunc(func(ctx context.Context) (*models.CategoryResponse, error) {
		return s.Uploader.FetchCategories(ctx, s.cfg.UserInfo.Email)
	})

	rs, changed, err := s.Classifier.RefreshRules(ctx, fetcher, s.Store)
	if err != nil {
		s.Metrics.RuleRefresh("failed")
		log.Warn("Using previous category rules", zap.Error(err))
		return
	}
	if !changed {
		s.Metrics.RuleRefresh("unchanged")
		return
	}
	s.Metrics.RuleRefresh("changed")

	if s.cfg.ApplyCategoriesToSource && rs != nil {
		if err := s.Source.PushCategories(ctx, rs.Rules); err != nil {
			log.Warn("Failed to apply categories to activity daemon", zap.Error(err))
		}
	}
}

// upload sends spooled records first, then this cycle's records
func (s *SyncService) upload(ctx context.Context, records []models.NormalizedRecord, report *CycleReport, log *zap.Logger) client.UploadResult {
	email := s.cfg.UserInfo.Email

	var (
		spooled    []models.NormalizedRecord
		spooledIDs []int64
	)
	if s.Spool != nil {
		var err error
		spooled, spooledIDs, err = s.Spool.Dequeue(ctx, email, s.cfg.BatchSize*10)
		if err != nil {
			log.Warn("Failed to read spool", zap.Error(err))
			spooled, spooledIDs = nil, nil
		} else if len(spooled) > 0 {
			log.Info("Resending spooled records", zap.Int("count", len(spooled)))
		}
	}

	all := make([]models.NormalizedRecord, 0, len(spooled)+len(records))
	all = append(all, spooled...)
	all = append(all, records...)

	result := s.Uploader.Upload(ctx, email, all)
	s.Metrics.AddBatches("ok", result.Batches)
	if !result.Success {
		s.Metrics.AddBatches("failed", 1)
	}

	if s.Spool != nil {
		s.settleSpool(ctx, result, spooledIDs, report, log)
	}
	return result
}

func (s *SyncService) settleSpool(ctx context.Context, result client.UploadResult, spooledIDs []int64, report *CycleReport, log *zap.Logger) {
	email := s.cfg.UserInfo.Email

	acked := result.AcceptedCount
	if acked > len(spooledIDs) {
		acked = len(spooledIDs)
	}
	if err := s.Spool.Remove(ctx, spooledIDs[:acked]); err != nil {
		log.Warn("Failed to remove resent records from spool", zap.Error(err))
	}
	if err := s.Spool.IncrementRetry(ctx, spooledIDs[acked:]); err != nil {
		log.Warn("Failed to update spool retries", zap.Error(err))
	}

	var serverErr *client.ServerError
	if !result.Success && errors.As(result.Err, &serverErr) && s.cfg.SpoolFailedBatches {
		if err := s.Spool.Enqueue(ctx, email, result.Remaining); err != nil {
			log.Warn("Failed to spool unsent records", zap.Error(err))
		}
	}
	if _, err := s.Spool.DropExhausted(ctx, s.cfg.SpoolMaxRetries); err != nil {
		log.Warn("Failed to prune spool", zap.Error(err))
	}

	if pending, err := s.Spool.PendingCount(ctx, email); err == nil {
		report.Spooled = pending
		s.Metrics.SetSpooled(pending)
	}
}

func (s *SyncService) fail(report *CycleReport, step string, err error) {
	report.Status = models.SyncStatusFailed
	report.Reason = fmt.Sprintf("%s: %v", step, err)
	report.Err = err
	s.phase.Store(PhaseFailed)
}

// finish persists the cycle outcome and mirrors it to the status file.
// The checkpoint only moves forward, and only on success.
func (s *SyncService) finish(ctx context.Context, state *models.SyncState, report *CycleReport, log *zap.Logger) {
	for attempt := 0; attempt < staleRetries; attempt++ {
		next := s.applyOutcome(*state, report, log)
		err := s.Store.Save(ctx, &next)
		if err == nil {
			*state = next
			break
		}
		if !errors.Is(err, checkpoint.ErrStaleState) {
			log.Error("Failed to save checkpoint", zap.Error(err))
			if report.Status == models.SyncStatusSuccess {
				s.fail(report, "save checkpoint", err)
			}
			return
		}

		log.Warn("Checkpoint changed concurrently, reloading", zap.Int("attempt", attempt+1))
		reloaded, loadErr := s.Store.Load(ctx)
		if loadErr != nil {
			log.Error("Failed to reload checkpoint", zap.Error(loadErr))
			return
		}
		*state = reloaded
	}

	if report.Status == models.SyncStatusSuccess && state.LastSyncTime != nil {
		s.Metrics.SetLastSuccess(*state.LastSyncTime)
	}
	s.writeStatusFile(*state, report, log)
}

func (s *SyncService) applyOutcome(state models.SyncState, report *CycleReport, log *zap.Logger) models.SyncState {
	state.LastStatus = report.Status

	switch report.Status {
	case models.SyncStatusSuccess:
		if state.LastSyncTime == nil || report.Until.After(*state.LastSyncTime) {
			until := report.Until
			state.LastSyncTime = &until
		}
		state.LastError = ""
		state.EventsSynced = report.Uploaded
		state.ConsecutiveFailures = 0
		state.ConsecutiveAuthFailures = 0

	case models.SyncStatusFailed:
		state.LastError = report.Reason
		state.EventsSynced = 0
		state.ConsecutiveFailures++

		var authErr *client.AuthError
		if errors.As(report.Err, &authErr) {
			state.ConsecutiveAuthFailures++
			log.Error("Server rejected the API key, check api_key or the key file",
				zap.String("event_type", "auth_failure"),
				zap.Int("status_code", authErr.StatusCode),
				zap.Int("consecutive_auth_failures", state.ConsecutiveAuthFailures))
			if threshold := s.cfg.AuthEscalationThreshold; threshold > 0 && state.ConsecutiveAuthFailures >= threshold {
				log.Error("Repeated authentication failures, uploads are blocked until the key is fixed",
					zap.String("event_type", "auth_escalation"),
					zap.Int("consecutive_auth_failures", state.ConsecutiveAuthFailures),
					zap.Int("threshold", threshold))
			}
		}

	case models.SyncStatusSkipped:
		state.LastError = report.Reason
		state.EventsSynced = 0
	}
	return state
}

func (s *SyncService) writeStatusFile(state models.SyncState, report *CycleReport, log *zap.Logger) {
	status := checkpoint.StatusFile{
		LastSyncTime: state.LastSyncTime,
		LastStatus:   state.LastStatus,
		Error:        state.LastError,
		EventsSynced: state.EventsSynced,
		UserEmail:    s.cfg.UserInfo.Email,
		SessionID:    report.SessionID,
	}
	if s.continuous.Load() {
		next := s.now().Add(s.cfg.SyncInterval()).UTC()
		status.NextSync = &next
	}

	if err := checkpoint.WriteStatusFile(s.cfg.StatusFilePath(), status); err != nil {
		log.Warn("Failed to write status file", zap.Error(err))
	}
}
