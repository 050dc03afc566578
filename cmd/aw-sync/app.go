package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/checkpoint"
	"Mansoor88-6/aw-sync-agent/internal/classifier"
	"Mansoor88-6/aw-sync-agent/internal/client"
	"Mansoor88-6/aw-sync-agent/internal/config"
	"Mansoor88-6/aw-sync-agent/internal/database"
	"Mansoor88-6/aw-sync-agent/internal/identity"
	"Mansoor88-6/aw-sync-agent/internal/logger"
	"Mansoor88-6/aw-sync-agent/internal/metrics"
	"Mansoor88-6/aw-sync-agent/internal/pipeline"
	"Mansoor88-6/aw-sync-agent/internal/privacy"
	"Mansoor88-6/aw-sync-agent/internal/queue"
	"Mansoor88-6/aw-sync-agent/internal/service"
	"Mansoor88-6/aw-sync-agent/internal/source"
	"Mansoor88-6/aw-sync-agent/internal/telemetry"
)

const localKeyName = "redaction"

// app owns every long-lived component of one process run
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	store    *checkpoint.Store
	source   *source.Client
	uploader *client.APIClient
	filter   *privacy.Filter
	metrics  *metrics.Metrics
	tracer   trace.TracerProvider
	shutdown func(context.Context) error
	svc      *service.SyncService
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, logger.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// newApp builds the components once and wires them explicitly
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg, log := a.cfg, a.log.Logger

	log.Info("Starting aw-sync",
		zap.String("version", version),
		zap.String("server_url", cfg.ServerURL),
		zap.String("activitywatch_url", cfg.ActivityWatchURL),
		zap.String("api_key_source", cfg.APIKeySource()),
		zap.String("api_key_hash", client.KeyHash(cfg.APIKey)),
		zap.String("state_dir", cfg.StateDir),
	)

	tp, shutdown, err := telemetry.InitTracer(telemetry.Options{
		Enabled:   cfg.Telemetry.Enabled,
		TraceFile: cfg.Telemetry.TraceFile,
		Service:   "aw-sync",
		Version:   version,
	}, log)
	if err != nil {
		return err
	}
	a.tracer, a.shutdown = tp, shutdown

	db, err := database.New(ctx, cfg.StateDBPath(), log)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	a.db = db
	a.store = checkpoint.NewStore(db, log)

	cipher, err := a.cipher(ctx, true)
	if err != nil {
		return err
	}
	filter, err := privacy.NewFilter(cfg.Privacy, cipher)
	if err != nil {
		return fmt.Errorf("failed to build privacy filter: %w", err)
	}
	a.filter = filter

	userID, err := identity.NewResolver().UserID(cfg.UserInfo.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve user id: %w", err)
	}

	a.source = source.NewClient(cfg.ActivityWatchURL, cfg.SourceTimeout(), cfg.MaxPagesPerBucket, log)
	a.uploader = client.NewAPIClient(cfg.ServerURL, cfg.APIKey, cfg.BatchSize, cfg.ServerTimeout(), log)
	a.metrics = metrics.New()

	cls := classifier.New(filter, log)
	components := service.Components{
		Source:      a.source,
		Uploader:    a.uploader,
		Classifier:  cls,
		Transformer: pipeline.NewTransformer(filter, cls, userID, identity.Hostname(), log),
		Store:       a.store,
		WorkHours:   filter,
		Metrics:     a.metrics,
		Tracer:      tp.Tracer("aw-sync"),
	}
	if cfg.SpoolFailedBatches {
		components.Spool = queue.NewRecordQueue(db.DB, log)
	}
	a.svc = service.NewSyncService(cfg, components, log)

	log.Debug("Components initialized",
		zap.String("user_id", userID),
		zap.String("redaction_mode", filter.Mode()),
		zap.Bool("spool", cfg.SpoolFailedBatches))
	return nil
}

// cipher returns the redaction cipher. The configured key wins; otherwise a
// locally generated key is used, created on demand only when generate is set.
func (a *app) cipher(ctx context.Context, generate bool) (*privacy.Cipher, error) {
	if a.cfg.EncryptionKey != "" {
		return privacy.NewCipher(a.cfg.EncryptionKey)
	}
	encrypt := a.cfg.Privacy.RedactionMode == config.RedactionEncrypt || a.cfg.Privacy.EncryptWindowTitles
	if !encrypt && generate {
		return nil, nil
	}

	gen := privacy.GenerateKey
	if !generate {
		gen = func() (string, error) {
			return "", fmt.Errorf("no local encryption key exists in %s", a.cfg.StateDBPath())
		}
	}
	key, err := a.store.LocalKey(ctx, localKeyName, gen)
	if err != nil {
		return nil, err
	}
	return privacy.NewCipher(key)
}

// Close releases everything newApp opened
func (a *app) Close() {
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.log.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("Failed to close database", zap.Error(err))
		}
	}
	_ = a.log.Close()
}
