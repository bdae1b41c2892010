package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ECGOPS/NMSECG-sub008/internal/persistence"
	"github.com/ECGOPS/NMSECG-sub008/internal/server"
	"github.com/ECGOPS/NMSECG-sub008/pkg/config"
	"github.com/ECGOPS/NMSECG-sub008/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gateway persistence.Gateway
	if cfg.Persistence.DSN != "" {
		store, err := persistence.NewPostgresStore(ctx, cfg.Persistence.DSN)
		if err != nil {
			logger.Error("Failed to connect to message store", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		gateway = store
	} else {
		logger.Warn("No persistence DSN configured; using in-memory message store")
		gateway = persistence.NewMemoryStore()
	}

	app := server.NewApp(logger, ctx, cfg, gateway)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
