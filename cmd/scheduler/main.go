package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/content/feed"
	"github.com/notmyhostname/posse/internal/dispatch"
	"github.com/notmyhostname/posse/internal/render"
	"github.com/notmyhostname/posse/internal/service"
	"github.com/notmyhostname/posse/internal/service/bluesky"
	"github.com/notmyhostname/posse/internal/service/mastodon"
	"github.com/notmyhostname/posse/internal/storage"
	"github.com/notmyhostname/posse/internal/storage/sqlite"
	"github.com/notmyhostname/posse/pkg/logger"
	"github.com/notmyhostname/posse/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	repo    storage.Repository
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "posse-scheduler",
		Short: "Background scheduler for the syndication queue",
		Long: `Polls the site feed for new content and dispatches ready queue tasks
on a schedule. Run this daemon as a service for autonomous syndication.`,
		RunE: runScheduler,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting syndication scheduler")

	repo, err = sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := content.NewFileStore(cfg.Content.Dir)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	// Start health check server
	go startHealthServer()

	// Initialize rate limiter
	limiter := ratelimit.NewDefaultLimiter()

	// Wire enabled platform adapters
	helper := service.NewHelper(repo, store, cfg.Syndication, log)
	registry := service.NewRegistry()
	if svcCfg, ok := cfg.Service(mastodon.Name); ok && svcCfg.Enabled {
		if err := registry.Register(mastodon.New(svcCfg, helper, limiter, log)); err != nil {
			return err
		}
		log.Info().Msg("Mastodon adapter enabled")
	}
	if svcCfg, ok := cfg.Service(bluesky.Name); ok && svcCfg.Enabled {
		if err := registry.Register(bluesky.New(svcCfg, helper, limiter, log)); err != nil {
			return err
		}
		log.Info().Msg("Bluesky adapter enabled")
	}
	if len(registry.Names()) == 0 {
		log.Warn().Msg("No services enabled; queue tasks will stay pending")
	}

	renderer := render.New(cfg.Syndication.DefaultTemplate)
	dispatcher := dispatch.New(repo, store, registry, renderer, cfg, log)
	watcher := feed.New(cfg.Feed, cfg.Syndication, store, repo, cfg.EnabledServices(), limiter, log)

	// Create cron scheduler
	c := cron.New(cron.WithLogger(cronLogger{log}))

	// Schedule feed watch job
	if cfg.Feed.URL != "" {
		_, err = c.AddFunc(cfg.Scheduler.WatchCron, func() {
			ctx := context.Background()
			log.Info().Msg("Running scheduled feed poll")

			sum, err := watcher.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Scheduled feed poll failed")
				return
			}

			log.Info().
				Int("matched", sum.ItemsMatched).
				Int("enqueued", sum.TasksEnqueued).
				Msg("Scheduled feed poll completed")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule feed job: %w", err)
		}
		log.Info().Str("cron", cfg.Scheduler.WatchCron).Msg("Feed job scheduled")
	} else {
		log.Info().Msg("No feed URL configured, feed job disabled")
	}

	// Schedule dispatch job
	_, err = c.AddFunc(cfg.Scheduler.SyndicateCron, func() {
		ctx := context.Background()
		log.Info().Msg("Running scheduled dispatch")

		result, err := dispatcher.RunOnce(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("Scheduled dispatch failed")
			return
		}

		log.Info().
			Str("status", string(result.Status)).
			Str("message", result.Message).
			Int("items", result.ItemsProcessed).
			Msg("Scheduled dispatch completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule dispatch job: %w", err)
	}
	log.Info().Str("cron", cfg.Scheduler.SyndicateCron).Msg("Dispatch job scheduled")

	// Start scheduler
	c.Start()
	log.Info().Msg("Scheduler started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down scheduler")
	c.Stop()

	return nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}

// startHealthServer starts a simple HTTP server for health checks
func startHealthServer() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("POSSE Scheduler"))
	})

	log.Info().Str("port", port).Msg("Health check server starting")
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Error().Err(err).Msg("Health server failed")
	}
}
