package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/grosser/soft-deletion/internal/app"
	"github.com/grosser/soft-deletion/internal/config"
	"github.com/grosser/soft-deletion/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Health(ctx); err != nil {
		slog.Error("database unhealthy", "driver", cfg.DBDriver, "error", err)
		application.Close()
		os.Exit(1)
	}

	report, err := application.RunDemo(ctx)
	if err != nil {
		slog.Error("demo failed", "driver", cfg.DBDriver, "error", err)
		application.Close()
		os.Exit(1)
	}

	slog.Info("demo complete",
		"driver", cfg.DBDriver,
		"category", report.CategoryID,
		"cascade_deleted", report.DeletedCascade,
		"cascade_restored", report.RestoredCascade,
		"events", report.Events,
	)
}
