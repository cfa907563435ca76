// Package bootstrap builds the configured component graph shared by the API
// server and the worker: database pool, storage backend, processor backend,
// notification backend and queue client, all selected from config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"takeoff-backend/internal/config"
	"takeoff-backend/internal/database"
	"takeoff-backend/internal/notify"
	"takeoff-backend/internal/processing"
	"takeoff-backend/internal/queue"
	"takeoff-backend/internal/repository"
	"takeoff-backend/internal/resilience"
	"takeoff-backend/internal/storage"
)

// Components is the wired dependency graph. Close releases everything in
// reverse construction order.
type Components struct {
	Pool        *pgxpool.Pool
	Files       repository.ModelFiles
	Materials   repository.Materials
	Store       storage.Backend
	Processor   processing.Backend
	Notifier    notify.Notifier
	Queue       *queue.Client
	AsynqClient *asynq.Client
	Logger      *slog.Logger
}

// Build constructs the graph from config. Selector validation already
// happened in config.Load, so unknown values here are programmer errors.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{Logger: logger}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	c.Pool = pool
	c.Files = repository.NewPGModelFiles(pool)
	c.Materials = repository.NewPGMaterials(pool)

	policy := resilience.Policy{
		Attempts:         cfg.RetryAttempts,
		BaseDelay:        cfg.RetryBaseDelay,
		MaxDelay:         cfg.RetryMaxDelay,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}

	store, err := buildStorage(ctx, cfg, policy)
	if err != nil {
		pool.Close()
		return nil, err
	}
	c.Store = store

	c.AsynqClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	c.Queue = queue.NewClient(c.AsynqClient)

	proc, err := buildProcessor(cfg, store)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Processor = proc

	c.Notifier = buildNotifier(cfg, c.AsynqClient, policy, logger)

	logger.Info("components built",
		"storage", cfg.StorageBackend,
		"processor", cfg.ProcessorBackend,
		"notifier", cfg.NotifierBackend,
	)
	return c, nil
}

// Close releases held resources. Safe to call on a partially built graph.
func (c *Components) Close() {
	if c.AsynqClient != nil {
		if err := c.AsynqClient.Close(); err != nil {
			c.Logger.Warn("close asynq client", "error", err)
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

func buildStorage(ctx context.Context, cfg *config.Config, policy resilience.Policy) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		s3, err := storage.NewS3(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
		}, policy)
		if err != nil {
			return nil, fmt.Errorf("build s3 storage: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return s3, nil
	case config.StorageLocal:
		local, err := storage.NewLocal(cfg.LocalStoragePath, cfg.LocalBaseURL)
		if err != nil {
			return nil, fmt.Errorf("build local storage: %w", err)
		}
		return local, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func buildProcessor(cfg *config.Config, store storage.Backend) (processing.Backend, error) {
	switch cfg.ProcessorBackend {
	case config.ProcessorIFC:
		downloader, ok := store.(storage.Downloader)
		if !ok {
			return nil, fmt.Errorf("storage backend %q cannot serve downloads", cfg.StorageBackend)
		}
		return processing.NewIFCProcessor(downloader, processing.IFCProcessorConfig{
			DownloadTimeout: cfg.DownloadTimeout,
			ValidateTimeout: cfg.ValidateTimeout,
			ExtractTimeout:  cfg.ProcessTimeout,
			ParsePool:       cfg.ParsePool,
		}), nil
	case config.ProcessorMock:
		return processing.NewMock(cfg.MockMaterials, cfg.MockFailure, cfg.MockDelay), nil
	default:
		return nil, fmt.Errorf("unknown processor backend %q", cfg.ProcessorBackend)
	}
}

func buildNotifier(cfg *config.Config, client *asynq.Client, policy resilience.Policy, logger *slog.Logger) notify.Notifier {
	switch cfg.NotifierBackend {
	case config.NotifierQueue:
		return notify.NewQueuePublisher(client, cfg.EventQueue, cfg.EventMaterialsMax, policy)
	case config.NotifierWebhook:
		if len(cfg.WebhookEndpoints) == 0 {
			logger.Warn("webhook notifier selected with no endpoints, events will be dropped")
		}
		return notify.NewWebhookPublisher(notify.WebhookConfig{
			Endpoints:    cfg.WebhookEndpoints,
			Secret:       cfg.WebhookSecret,
			Timeout:      cfg.WebhookTimeout,
			MaxMaterials: cfg.WebhookMaterialsMax,
			AllowLocal:   cfg.WebhookAllowLocal,
		}, policy)
	default:
		return notify.Discard{}
	}
}
