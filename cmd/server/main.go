package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"takeoff-backend/internal/api"
	"takeoff-backend/internal/bootstrap"
	"takeoff-backend/internal/config"
	"takeoff-backend/internal/ingest"
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

	orch := ingest.New(
		components.Store,
		components.Files,
		components.Materials,
		components.Queue,
		components.Notifier,
		logger,
	)
	srv := api.New(cfg, orch, components.Store, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
