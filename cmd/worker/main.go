package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/DocBrief/internal/app"
	"github.com/dharsanguruparan/DocBrief/internal/config"
	"github.com/dharsanguruparan/DocBrief/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	w, err := app.NewWorker(ctx, cfg, log, logger.Asynq{L: log.With("component", "asynq")})
	if err != nil {
		log.Error("init worker", "error", err)
		os.Exit(1)
	}
	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
