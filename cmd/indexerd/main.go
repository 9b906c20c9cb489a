package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pharmaclear/observability/logging"
	telemetry "pharmaclear/observability/otel"
	"pharmaclear/services/indexer"
)

func main() {
	var (
		cfgPath  string
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "services/indexer/config.yaml", "path to indexerd configuration file")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := indexer.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("indexerd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("PHARMACLEAR_ENV"))
	logger := logging.Setup("indexerd", env, logging.Options{Level: logging.ParseLevel(logLevel)})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "indexerd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("indexerd: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := indexer.OpenDB(cfg.Database)
	if err != nil {
		log.Fatalf("indexerd: open database: %v", err)
	}

	var checkpoint *indexer.Checkpoint
	if path := strings.TrimSpace(cfg.CheckpointPath); path != "" {
		if checkpoint, err = indexer.OpenCheckpoint(path); err != nil {
			log.Fatalf("indexerd: open checkpoint: %v", err)
		}
		defer checkpoint.Close()
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := indexer.NewHub()
	follower := indexer.NewFollower(db, hub, cfg.PollInterval.Duration, logger)
	go func() {
		if err := follower.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event follower exited", slog.String("error", err.Error()))
			stop()
		}
	}()

	srv := indexer.NewServer(indexer.ServerConfig{
		DB:         db,
		Checkpoint: checkpoint,
		Hub:        hub,
		Auth:       cfg.Auth,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("indexerd listening", slog.String("addr", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.String("error", err.Error()))
	}
}
