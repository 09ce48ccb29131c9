package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gavelworks/gavel/marketplace"
	"github.com/gavelworks/gavel/marketplace/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := marketplace.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))

	slog.Info("Starting gavel auction core",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	app, err := marketplace.New(ctx, *cfg)
	cancel()
	if err != nil {
		slog.Error("Failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("Database connected and schema ready",
		slog.String("database", cfg.DB.Database))

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.Sweeper.Run(runCtx)

	<-runCtx.Done()
	slog.Info("Shutting down")
}
