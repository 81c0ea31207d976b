package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyderes/social-feed/internal/config"
	"github.com/cyderes/social-feed/internal/feed"
	"github.com/cyderes/social-feed/internal/logging"
	"github.com/cyderes/social-feed/internal/metrics"
	"github.com/cyderes/social-feed/internal/remote"
	"github.com/cyderes/social-feed/internal/server"
	"github.com/cyderes/social-feed/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		slog.Warn("falling back to info level", "error", err)
	}
	logger := logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.NewStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "type", cfg.Storage.Type, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := remote.NewClient(cfg.Remote, logger)
	collector := metrics.NewCollector()
	controller := feed.NewController(client, store,
		feed.WithLogger(logger),
		feed.WithMetrics(collector),
		feed.WithListener(feed.Hooks{
			OnError: func(message string) {
				logger.Warn("feed error", "message", message)
			},
			OnWarning: func(message string) {
				logger.Warn("feed warning", "message", message)
			},
		}),
	)

	httpServer := server.NewServer(cfg.Server, controller, store, client, collector.Handler(), logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start()
	})

	g.Go(func() error {
		logger.Info("starting feed", "refresh_interval", cfg.Feed.RefreshInterval)
		err := controller.Run(gctx, cfg.Feed.RefreshInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", "error", err)
		store.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
