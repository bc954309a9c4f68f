package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/signflow/internal/config"
	"github.com/kirillkom/signflow/internal/core/ports"
	"github.com/kirillkom/signflow/internal/core/usecase"
	"github.com/kirillkom/signflow/internal/infrastructure/hashing"
	"github.com/kirillkom/signflow/internal/infrastructure/idempotency/memory"
	"github.com/kirillkom/signflow/internal/infrastructure/idempotency/redisstore"
	"github.com/kirillkom/signflow/internal/infrastructure/inspector/pdfinfo"
	"github.com/kirillkom/signflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/signflow/internal/infrastructure/renderer/httprender"
	"github.com/kirillkom/signflow/internal/infrastructure/renderer/manifest"
	"github.com/kirillkom/signflow/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
	"github.com/kirillkom/signflow/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/signflow/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/signflow/internal/infrastructure/storage/resilient"
	"github.com/kirillkom/signflow/internal/infrastructure/storage/s3"
	"github.com/kirillkom/signflow/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Store *sqlstore.Store
	// Events is nil when NATS_URL is empty.
	Events      ports.EventSubscriber
	Idempotency ports.IdempotencyStore

	Submitter  ports.DocumentSubmitter
	SignerQ    ports.SignerQueue
	Finalizer  ports.Finalizer
	Duplicates ports.DuplicateChecker
	Verifier   ports.Verifier
	Status     *usecase.StatusUseCase
	Audit      ports.AuditTrailReader
	Sweeper    *usecase.FinalizeSweeper

	closeFn func()
}

// New wires the application. Signing metrics are registered on registerer,
// which may be nil to skip them.
func New(ctx context.Context, cfg config.Config, registerer prometheus.Registerer) (*App, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	db, err := sqlstore.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	closers = append(closers, func() { _ = db.Close() })
	store, err := sqlstore.New(db, cfg.DBDriver, executor)
	if err != nil {
		return fail(fmt.Errorf("init store: %w", err))
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}

	storage, closeStorage, err := newObjectStorage(ctx, cfg, executor)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}
	closers = append(closers, closeStorage)

	hasher, err := hashing.New(cfg.HashAlgorithm)
	if err != nil {
		return fail(fmt.Errorf("init hasher: %w", err))
	}

	var renderer ports.EvidenceRenderer = manifest.New()
	if cfg.RendererURL != "" {
		renderer = httprender.New(cfg.RendererURL, cfg.RendererTimeout, executor)
	}

	var (
		notifier ports.Notifier
		events   ports.EventSubscriber
	)
	if cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			return fail(fmt.Errorf("init message queue: %w", err))
		}
		closers = append(closers, queue.Close)
		notifier = queue
		events = queue
	} else {
		slog.Warn("nats_disabled", "reason", "NATS_URL is empty")
	}

	var idempotency ports.IdempotencyStore = memory.New()
	if cfg.RedisAddr != "" {
		redis := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redis.Ping(ctx); err != nil {
			_ = redis.Close()
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		closers = append(closers, func() { _ = redis.Close() })
		idempotency = redis
	}

	var signingMetrics ports.SigningMetrics
	if registerer != nil {
		signingMetrics = metrics.NewSigningMetrics("signflow", registerer)
	}

	audit := usecase.NewAuditTrail(store, store)
	registry := usecase.NewRegistryUseCase(store, audit, notifier)
	duplicates := usecase.NewDuplicateDetector(store, hasher)
	submitter := usecase.NewSubmitDocumentUseCase(registry, duplicates, storage, hasher, pdfinfo.New())
	finalizer := usecase.NewFinalizeUseCase(store, storage, renderer, hasher, audit, signingMetrics)
	signing := usecase.NewSigningUseCase(store, audit, finalizer, hasher, notifier, signingMetrics)
	verifier := usecase.NewVerificationUseCase(store, hasher, audit, cfg.AuditVerifications, signingMetrics)
	status := usecase.NewStatusUseCase(store, store, storage)

	slog.Info("app_wired",
		"db_driver", cfg.DBDriver,
		"storage", cfg.StorageType,
		"hash_algorithm", hasher.Algorithm(),
		"remote_renderer", cfg.RendererURL != "",
		"nats", events != nil,
		"redis", cfg.RedisAddr != "",
	)

	return &App{
		Config:      cfg,
		Store:       store,
		Events:      events,
		Idempotency: idempotency,

		Submitter:  submitter,
		SignerQ:    signing,
		Finalizer:  finalizer,
		Duplicates: duplicates,
		Verifier:   verifier,
		Status:     status,
		Audit:      audit,
		Sweeper:    usecase.NewFinalizeSweeper(store, finalizer, cfg.FinalizeSweepBatch),

		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newObjectStorage(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ObjectStorage, func(), error) {
	nop := func() {}
	switch cfg.StorageType {
	case "", "fs":
		fs, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, nop, err
		}
		return fs, nop, nil
	case "s3":
		backend, err := s3.New(ctx, s3.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			return nil, nop, err
		}
		return resilient.New("s3", backend, executor), nop, nil
	case "gcs":
		backend, err := gcs.New(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, nop, err
		}
		return resilient.New("gcs", backend, executor), func() { _ = backend.Close() }, nil
	default:
		return nil, nop, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     cfg.RetryInitialBackoff,
		RetryMaxBackoff:         cfg.RetryMaxBackoff,
		RetryMultiplier:         cfg.RetryMultiplier,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
	}
}
