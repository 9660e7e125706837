package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/intelmap-ingest/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/intelmap-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/intelmap-ingest/internal/adapter/mapbox"
	"github.com/couchcryptid/intelmap-ingest/internal/adapter/ner"
	"github.com/couchcryptid/intelmap-ingest/internal/adapter/sqlite"
	"github.com/couchcryptid/intelmap-ingest/internal/adapter/telegram"
	"github.com/couchcryptid/intelmap-ingest/internal/config"
	"github.com/couchcryptid/intelmap-ingest/internal/domain"
	"github.com/couchcryptid/intelmap-ingest/internal/observability"
	"github.com/couchcryptid/intelmap-ingest/internal/pipeline"
	"github.com/couchcryptid/intelmap-ingest/internal/scheduler"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		logger.Error("failed to create media dir", "path", cfg.MediaDir, "error", err)
		return 1
	}

	db, err := sqlite.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	store := sqlite.NewStore(db, nil, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}()

	modelPath, err := ner.PrepareModel(cfg.NERModelName, cfg.NERModelPath)
	if err != nil {
		logger.Error("failed to prepare NER model", "error", err)
		return 1
	}
	extractor, err := ner.NewExtractor(modelPath, logger)
	if err != nil {
		logger.Error("failed to load NER model", "error", err)
		return 1
	}
	defer func() {
		if err := extractor.Close(); err != nil {
			logger.Error("NER session close error", "error", err)
		}
	}()

	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	geocoder := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)

	resolver := domain.NewResolver(geocoder, domain.ResolverConfig{
		BaseDelay:      cfg.GeocodeBaseDelay,
		AttemptTimeout: cfg.GeocodeAttemptTimeout,
		OnAttempt: func(outcome string) {
			metrics.GeocodeAttempts.WithLabelValues(outcome).Inc()
		},
	}, logger)
	coordinator := domain.NewCoordinator(extractor, resolver, logger)

	tg, err := telegram.NewClient(telegram.Config{
		Token:         cfg.TelegramToken,
		Channels:      cfg.TelegramChannels,
		MonitorChatID: cfg.TelegramMonitorChatID,
	}, logger)
	if err != nil {
		logger.Error("failed to create telegram client", "error", err)
		return 1
	}

	p := pipeline.New(tg, tg, store, coordinator, logger, metrics, pipeline.Config{
		MediaDir:            cfg.MediaDir,
		MaxConcurrentEvents: cfg.MaxConcurrentEvents,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
		ShutdownTimeout:     cfg.ShutdownTimeout,
	})

	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
		p.SetNotifier(publisher)
		logger.Info("kafka notifications enabled", "topic", cfg.KafkaSinkTopic)
	}

	sched, err := scheduler.New(cfg.MaintenanceSchedule, store, cfg.ShutdownTimeout, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return 1
	}
	sched.Start()

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Readiness{store, p}, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Start Telegram polling; it closes the event channel when it stops.
	g.Go(func() error {
		return tg.Run(gctx)
	})

	// Start ingestion pipeline.
	g.Go(func() error {
		return p.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		if err := sched.Stop(); err != nil {
			logger.Error("scheduler shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
