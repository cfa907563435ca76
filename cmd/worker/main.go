package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"takeoff-backend/internal/bootstrap"
	"takeoff-backend/internal/config"
	"takeoff-backend/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	components, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build components", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Concurrency,
	})

	processor := worker.NewProcessor(components.Files, components.Processor, components.Notifier, logger)
	mux := processor.Handler()

	sweeper := worker.NewSweeper(components.Files, components.Queue, cfg.SweepInterval, cfg.StaleAfter, logger)
	go sweeper.Run(ctx)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker starting", "concurrency", cfg.Concurrency)
	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
