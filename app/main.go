package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lysyi3m/feedpress/app/api"
	"github.com/lysyi3m/feedpress/app/cfg"
	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/dedup"
	"github.com/lysyi3m/feedpress/app/feed"
	"github.com/lysyi3m/feedpress/app/gemini"
	"github.com/lysyi3m/feedpress/app/pipeline"
	"github.com/lysyi3m/feedpress/app/publisher"
	"github.com/lysyi3m/feedpress/app/scorer"
	"github.com/lysyi3m/feedpress/app/tasks"
	"github.com/lysyi3m/feedpress/app/thumbnail"
	"github.com/lysyi3m/feedpress/app/validator"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogger(appCfg.Debug)

	if err := appCfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(appCfg); err != nil {
		slog.Error("Feedpress stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting Feedpress", "version", appCfg.Version, "publish_mode", appCfg.PublishMode, "run_once", appCfg.RunOnce)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed sources: %w", err)
	}
	slog.Info("Feed sources loaded", "count", configCache.GetConfigCount(), "dir", appCfg.FeedsDir)

	feedRepo := database.NewFeedRepository(db)
	queueRepo := database.NewQueueRepository(db)
	articleRepo := database.NewArticleRepository(db)
	index := dedup.NewIndex(database.NewDedupRepository(db))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := gemini.NewClient(ctx, gemini.Options{
		APIKey:            appCfg.GeminiAPIKey,
		Model:             appCfg.GeminiModel,
		RequestsPerMinute: appCfg.GeminiRPM,
		Language:          appCfg.Language,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	reliability, err := scorer.LoadReliability(appCfg.ReliabilityFile)
	if err != nil {
		return err
	}

	opts := pipeline.DefaultOptions()
	opts.Threshold = appCfg.PublishThreshold
	opts.Mode = appCfg.PublishMode
	opts.MaxRegenerations = appCfg.MaxRegenerations
	opts.StaleAfter = appCfg.StaleAfter
	opts.ExtractTimeout = appCfg.ExtractTimeout

	deps := pipeline.Deps{
		Queue:     queueRepo,
		Locks:     database.NewRunLockRepository(db),
		Extractor: feed.NewContentExtractor(appCfg.UserAgent, appCfg.ExtractTimeout),
		Generator: client,
		Validator: validator.New(client, client, validator.DefaultThresholds()),
		Scorer:    scorer.New(articleRepo, reliability),
	}
	if appCfg.PublishMode != cfg.PublishModeOff {
		deps.Thumbnailer = thumbnail.NewRenderer()
		deps.Publisher = publisher.NewWordPress(appCfg.WPURL, appCfg.WPUser, appCfg.WPAppPassword, opts.PublishTimeout)
	}
	orchestrator := pipeline.New(deps, opts)

	scheduler := tasks.NewScheduler(configCache, feedRepo, index, orchestrator,
		&http.Client{}, feed.NewParser(), feed.NewFilterer(), tasks.Settings{
			UserAgent:       appCfg.UserAgent,
			Interval:        time.Duration(appCfg.SchedulerInterval) * time.Second,
			WorkerCount:     appCfg.WorkerCount,
			BatchSize:       appCfg.BatchSize,
			PipelineTimeout: time.Hour,
		})

	if appCfg.RunOnce {
		return runOnce(ctx, scheduler, orchestrator, appCfg.BatchSize)
	}

	scheduler.Start()
	defer scheduler.Stop()

	baseURL := strings.TrimSuffix(appCfg.BaseUrl, "/")
	if baseURL == "" {
		baseURL = "http://localhost:" + appCfg.Port
	}
	channel := feed.Channel{
		Title:       "Feedpress",
		Link:        baseURL,
		Description: "Articles published by Feedpress",
		SelfLink:    baseURL + "/feeds/published",
		Language:    appCfg.Language,
		Version:     appCfg.Version,
	}

	handler := api.NewHandler(configCache, api.Repositories{
		Feeds:        feedRepo,
		Queue:        queueRepo,
		Articles:     articleRepo,
		Publications: database.NewPublicationRepository(db),
	}, db, orchestrator, scheduler, channel, appCfg.BatchSize)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port, "api_enabled", appCfg.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	slog.Info("Feedpress shutdown complete")
	return nil
}

func runOnce(ctx context.Context, scheduler *tasks.Scheduler, orchestrator *pipeline.Orchestrator, batchSize int) error {
	if err := scheduler.Ingest(ctx); err != nil {
		return err
	}

	summary, err := orchestrator.RunBatch(ctx, batchSize)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		slog.Warn("Another run holds the pipeline lock, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Run finished", "processed", summary.Processed, "published", summary.Published, "failed", summary.Failed)
	return nil
}
