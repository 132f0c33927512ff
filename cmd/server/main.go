package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"windperf/internal/api"
	"windperf/internal/attribution"
	"windperf/internal/config"
	"windperf/internal/fetcher"
	"windperf/internal/metrics"
	"windperf/internal/openmeteo"
	"windperf/internal/pipeline"
	"windperf/internal/publish"
	"windperf/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	farms, specs := cfg.Registry()
	if len(farms) > 0 {
		if err := db.UpsertFarms(ctx, farms); err != nil {
			slog.Error("failed to register farms", "err", err)
			os.Exit(1)
		}
		if err := db.UpsertTurbineSpecs(ctx, specs); err != nil {
			slog.Error("failed to register turbine specs", "err", err)
			os.Exit(1)
		}
		slog.Info("farm registry loaded", "farms", len(farms), "specs", len(specs))
	}

	m := metrics.New()

	var publisher pipeline.Publisher
	pub, err := publish.New(publish.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
	switch {
	case errors.Is(err, publish.ErrNoBrokers):
		slog.Info("kafka publishing disabled")
	case err != nil:
		slog.Error("failed to create kafka publisher", "err", err)
		os.Exit(1)
	default:
		defer pub.Close()
		publisher = pub
		slog.Info("kafka publishing enabled", "topic", pub.Topic(), "brokers", cfg.KafkaBrokers)
	}

	engine := attribution.NewEngine(cfg.AttributionParams())
	svc := pipeline.NewService(db, engine, publisher, m, 10*time.Minute)

	weatherClient := openmeteo.NewClient(cfg.OpenMeteoBaseURL)
	f := fetcher.New(weatherClient, db, m)
	go f.RunIngestLoop(ctx, cfg.IngestInterval)
	go fetcher.RunAttributionLoop(ctx, svc, cfg.AttributionInterval, cfg.AttributionLookback)

	mux := http.NewServeMux()
	handler := api.NewHandler(svc, m)
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	slog.Info("server stopped")
}
