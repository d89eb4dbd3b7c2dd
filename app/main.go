package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/rss-intel/app/api"
	"github.com/lysyi3m/rss-intel/app/cache"
	"github.com/lysyi3m/rss-intel/app/cfg"
	"github.com/lysyi3m/rss-intel/app/database"
	"github.com/lysyi3m/rss-intel/app/feed"
	"github.com/lysyi3m/rss-intel/app/inference"
	"github.com/lysyi3m/rss-intel/app/news"
	"github.com/lysyi3m/rss-intel/app/tasks"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appConfig.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if err := run(appConfig); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(appConfig *cfg.Cfg) error {
	slog.Info("Starting RSS Intel server", "version", appConfig.Version)

	clock := clockwork.NewRealClock()

	db, err := database.Open(appConfig.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", db.Path(), "schema_version", version, "dirty", dirty)

	snapshotRepo := database.NewSnapshotRepository(db)
	store := cache.NewStore(news.Caps{
		Breaking: appConfig.MaxBreaking,
		Recent:   appConfig.MaxRecent,
		Popular:  appConfig.MaxPopular,
	}, clock, snapshotRepo)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	snapshots, err := snapshotRepo.LoadSnapshots(loadCtx)
	cancelLoad()
	if err != nil {
		slog.Warn("Failed to load persisted snapshots, starting empty", "error", err)
	} else {
		slog.Info("Restored persisted snapshots", "count", store.Restore(snapshots))
	}

	configCache := feed.NewConfigCache(appConfig.TopicsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load topic configurations: %w", err)
	}
	slog.Info("Loaded topic configurations", "count", configCache.GetConfigCount(), "active", len(configCache.ActiveTopics()))

	httpClient := inference.NewHTTPClient()

	collector := feed.NewCollector(configCache, httpClient, feed.NewParser(), feed.NewFilterer(), appConfig.UserAgent, clock)

	backend := inference.NewOllamaBackend(appConfig.InferenceURL, httpClient, appConfig.UserAgent)
	inferenceClient := inference.NewClient(backend, inference.RetryPolicy{
		MaxRetries: appConfig.MaxRetries,
		BaseDelay:  appConfig.RetryBase(),
		Multiplier: 2,
		MaxDelay:   appConfig.RetryMax(),
	}, inference.Config{
		FastModels:        appConfig.FastChain(),
		PowerfulModels:    appConfig.PowerfulChain(),
		FastTimeout:       appConfig.FastBudget(),
		PowerfulTimeout:   appConfig.PowerfulBudget(),
		ColdStartGrace:    appConfig.ColdStart(),
		KeepAlive:         appConfig.KeepAliveWindow(),
		FallbackThreshold: appConfig.FallbackThreshold,
		RequestsPerMinute: appConfig.RequestsPerMinute,
	}, clock)

	enricher := news.NewEnricher(inferenceClient, feed.NewSanitizer(), feed.NewContentExtractor(httpClient, appConfig.UserAgent), news.EnricherConfig{
		Language:    appConfig.TargetLanguage,
		Timeout:     appConfig.EnrichBudget(),
		Concurrency: appConfig.EnrichConcurrency,
	})
	categorizer := news.NewCategorizer(appConfig.BreakingAge(), clock)
	pipeline := news.NewPipeline(collector, enricher, categorizer, store, appConfig.Deadline(), clock)

	slog.Info("Starting refresh scheduler", "workers", appConfig.WorkerCount, "interval", appConfig.Interval())
	scheduler := tasks.NewScheduler(pipeline, configCache, clock, appConfig.Interval(), appConfig.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(store, configCache, scheduler, inferenceClient, appConfig.Version)
	server := api.NewServer(handler, appConfig.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("RSS Intel server started")

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case serveErr = <-serverErrChan:
		slog.Error("Server error", "error", serveErr)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return serveErr
}
