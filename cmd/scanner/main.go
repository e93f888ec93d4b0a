package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/narrativescanner/scanner/internal/api"
	"github.com/narrativescanner/scanner/internal/config"
	"github.com/narrativescanner/scanner/internal/ingestion"
	"github.com/narrativescanner/scanner/internal/jobs"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/narrativescanner/scanner/internal/notifications"
	"github.com/narrativescanner/scanner/internal/scheduler"
	"github.com/narrativescanner/scanner/internal/sources"
	"github.com/narrativescanner/scanner/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting narrative scanner")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if cfg.AutoMigrate {
		if err := storage.Migrate(startupCtx, cfg.DatabaseURL); err != nil {
			logrus.Fatalf("Failed to migrate database: %v", err)
		}
	}

	pool, err := storage.NewPool(startupCtx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	mentionStore := storage.NewPostgresStore(pool)

	trackerOpts := jobs.Options{MaxConcurrentCrawls: cfg.MaxConcurrentCrawls}

	if cfg.StorageAccount != "" {
		blobs, err := storage.NewAzureStorage(startupCtx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize job archive: %v", err)
		}
		trackerOpts.Archive = storage.NewJobArchive(blobs)
		logrus.Infof("Archiving finished jobs to container %s", cfg.StorageContainer)
	}

	notificationService := notifications.NewService(cfg)
	if notificationService.Enabled() {
		trackerOpts.Notifier = notificationService
	}

	srcs := []sources.Source{
		sources.NewRedditSource(sources.RedditOptions{
			ClientID:          cfg.RedditClientID,
			ClientSecret:      cfg.RedditClientSecret,
			UserAgent:         cfg.RedditUserAgent,
			Subreddits:        cfg.Subreddits,
			RequestsPerMinute: cfg.RedditRequestsPerMinute,
		}),
		sources.NewHackerNewsSource("", cfg.HackerNewsFeeds),
		sources.NewTwitterSource(sources.TwitterOptions{
			BearerToken: cfg.TwitterBearerToken,
			Queries:     cfg.TwitterQueries,
		}),
	}
	if !cfg.RedditConfigured() {
		logrus.Warn("Reddit API credentials not configured, Reddit ingestion is disabled")
	}

	orchestrator := ingestion.NewOrchestrator(mentionStore, ingestion.Options{
		ReplyLimit:        cfg.ReplyLimit,
		PartitionCooldown: cfg.PartitionCooldown,
		DefaultLimit:      cfg.DefaultLimitPerPartition,
	})

	// The memory store reports evictions to the tracker, which does not
	// exist yet when the store is built.
	var tracker *jobs.Tracker
	var jobStore jobs.Store
	if cfg.RedisURL != "" {
		client, err := jobs.NewRedisClient(startupCtx, cfg.RedisURL)
		if err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		jobStore = jobs.NewRedisStore(client, cfg.JobRegistrySize, cfg.JobRetention)
		logrus.Info("Using Redis job registry")
	} else {
		jobStore = jobs.NewMemoryStore(cfg.JobRegistrySize, cfg.JobRetention, func(job models.IngestionJob) {
			if tracker != nil {
				tracker.Evicted(job)
			}
		})
		logrus.Info("Using in-memory job registry")
	}

	tracker = jobs.NewTracker(jobStore, orchestrator, srcs, trackerOpts)

	scheduled := make([]models.Source, 0, len(cfg.ScheduledSources))
	for _, name := range cfg.ScheduledSources {
		scheduled = append(scheduled, models.Source(name))
	}
	schedulerService := scheduler.NewService(cfg.IngestSchedule, scheduled, cfg.DefaultLimitPerPartition, tracker)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := api.NewHandler(tracker, mentionStore, orchestrator.Metrics(), map[models.Source]bool{
		models.SourceReddit:     cfg.RedditConfigured(),
		models.SourceHackerNews: true,
		models.SourceTelegram:   cfg.TelegramAPIID != "",
		models.SourceTwitter:    cfg.TwitterBearerToken != "",
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	schedulerService.Stop()
	if err := tracker.Shutdown(ctx); err != nil {
		logrus.Errorf("Ingestion jobs did not stop cleanly: %v", err)
	}

	logrus.Info("Server exited")
}
