// Package main is the entry point for the DocBrief API. It serves uploads
// and summary jobs and, in embedded mode, runs inference in-process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/dharsanguruparan/DocBrief/internal/app"
	"github.com/dharsanguruparan/DocBrief/internal/config"
	"github.com/dharsanguruparan/DocBrief/internal/logger"
)

func main() {
	// Step 1: load configuration and build the logger.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)
	if logger.ParseLevel(cfg.Log.Level) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Step 2: cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 3: wire the store, execution strategy and routes.
	a, err := app.NewAPI(ctx, cfg, log)
	if err != nil {
		log.Error("init api", "error", err)
		os.Exit(1)
	}
	log.Info("docbrief starting", "addr", cfg.Address, "dispatch_mode", cfg.Dispatch.Mode, "store", cfg.Store.Driver)

	// Step 4: block until shutdown completes.
	if err := a.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
