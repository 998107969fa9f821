package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/notmyhostname/posse/internal/config"
	"github.com/notmyhostname/posse/internal/content"
	"github.com/notmyhostname/posse/internal/content/feed"
	"github.com/notmyhostname/posse/internal/dispatch"
	"github.com/notmyhostname/posse/internal/models"
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
	store   *content.FileStore
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "posse",
		Short: "Syndicate your own site's content to social platforms",
		Long: `A POSSE engine: content published on your own site is queued and
syndicated to Mastodon and Bluesky, one post per hour.`,
		PersistentPreRunE: initializeApp,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(syndicateCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
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

	repo, err = sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err = content.NewFileStore(cfg.Content.Dir)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	return nil
}

// newDispatcher wires the adapters the configuration enables.
func newDispatcher() (*dispatch.Dispatcher, error) {
	limiter := ratelimit.NewDefaultLimiter()
	helper := service.NewHelper(repo, store, cfg.Syndication, log)

	registry := service.NewRegistry()
	if svcCfg, ok := cfg.Service(mastodon.Name); ok && svcCfg.Enabled {
		if err := registry.Register(mastodon.New(svcCfg, helper, limiter, log)); err != nil {
			return nil, err
		}
	}
	if svcCfg, ok := cfg.Service(bluesky.Name); ok && svcCfg.Enabled {
		if err := registry.Register(bluesky.New(svcCfg, helper, limiter, log)); err != nil {
			return nil, err
		}
	}

	renderer := render.New(cfg.Syndication.DefaultTemplate)
	return dispatch.New(repo, store, registry, renderer, cfg, log), nil
}

// ============ QUEUE COMMANDS ============

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the syndication queue",
	}

	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueAddCmd())
	cmd.AddCommand(queueIgnoreCmd())
	cmd.AddCommand(queueUnignoreCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	var svc string
	var history bool
	var orderBy string
	var desc bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			filter := storage.DefaultQueueFilter()
			filter.History = history
			filter.Limit = limit
			filter.OrderDesc = desc
			if orderBy != "" {
				filter.OrderBy = orderBy
			}
			if svc != "" {
				filter.Service = &svc
			}

			tasks, err := repo.ListQueue(ctx, filter)
			if err != nil {
				return err
			}

			heading := "Queue"
			if history {
				heading = "History"
			}
			fmt.Printf("\n=== %s (%d) ===\n\n", heading, len(tasks))
			for _, t := range tasks {
				fmt.Printf("[%d] %s | %s | %s\n", t.ID, t.Service, t.State(), t.Title)
				fmt.Printf("    URL: %s\n", t.CanonicalURL)
				switch t.State() {
				case models.TaskStateSyndicated:
					fmt.Printf("    Syndicated: %s -> %s\n", t.SyndicatedAt.Format(time.RFC3339), t.SyndicatedURL)
				case models.TaskStatePending:
					fmt.Printf("    Ready: %s\n", t.ReadyAt.Format(time.RFC3339))
				}
				fmt.Println()
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&svc, "service", "", "Filter by service (mastodon, bluesky)")
	cmd.Flags().BoolVar(&history, "history", false, "Show syndicated and ignored tasks instead of pending")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "Order by column (ready_at, published_at, title, ...)")
	cmd.Flags().BoolVar(&desc, "desc", false, "Reverse the sort order")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum tasks to show")

	return cmd
}

func queueAddCmd() *cobra.Command {
	var contentID string
	var title string
	var url string
	var services []string
	var delayMinutes int

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue a content item by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if len(services) == 0 {
				services = cfg.EnabledServices()
			}
			if len(services) == 0 {
				return fmt.Errorf("no services enabled and none given via --service")
			}

			delay := cfg.Syndication.Delay()
			if cmd.Flags().Changed("delay") {
				delay = time.Duration(delayMinutes) * time.Minute
			}

			snap := models.Snapshot{
				Title:        title,
				CanonicalURL: url,
				PublishedAt:  time.Now().UTC(),
			}

			for _, svc := range services {
				id, err := repo.Enqueue(ctx, contentID, svc, snap, delay)
				if err != nil {
					return fmt.Errorf("failed to enqueue for %s: %w", svc, err)
				}
				fmt.Printf("Enqueued task %d for %s\n", id, svc)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&contentID, "content-id", "", "Stable content item ID (required)")
	cmd.Flags().StringVar(&title, "title", "", "Content title")
	cmd.Flags().StringVar(&url, "url", "", "Canonical URL of the content (required)")
	cmd.Flags().StringSliceVar(&services, "service", nil, "Target services (default: all enabled)")
	cmd.Flags().IntVar(&delayMinutes, "delay", 0, "Delay in minutes before the task becomes ready")
	cmd.MarkFlagRequired("content-id")
	cmd.MarkFlagRequired("url")

	return cmd
}

func queueIgnoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore <task-id>",
		Short: "Exclude a task from syndication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if err := repo.MarkIgnored(context.Background(), id, true); err != nil {
				return err
			}
			fmt.Printf("Task %d ignored\n", id)
			return nil
		},
	}
	return cmd
}

func queueUnignoreCmd() *cobra.Command {
	var delayMinutes int

	cmd := &cobra.Command{
		Use:   "unignore <task-id>",
		Short: "Return an ignored or syndicated task to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			delay := cfg.Syndication.Delay()
			if cmd.Flags().Changed("delay") {
				delay = time.Duration(delayMinutes) * time.Minute
			}

			if err := repo.Unignore(context.Background(), id, delay); err != nil {
				return err
			}
			fmt.Printf("Task %d back in the queue, ready in %s\n", id, delay)
			return nil
		},
	}

	cmd.Flags().IntVar(&delayMinutes, "delay", 0, "Delay in minutes before the task becomes ready")
	return cmd
}

func parseTaskID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid task ID %q", arg)
	}
	return uint(id), nil
}

// ============ SYNDICATE COMMANDS ============

func syndicateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syndicate",
		Short: "Run the syndication dispatcher",
	}

	cmd.AddCommand(syndicateRunCmd())
	cmd.AddCommand(syndicateNowCmd())
	return cmd
}

func syndicateRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch at most one ready task, honoring the hourly policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}

			result, err := d.RunOnce(context.Background(), time.Now())
			if err != nil {
				return err
			}

			printDispatchResult(result)
			return nil
		},
	}
	return cmd
}

func syndicateNowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "now <task-id>",
		Short: "Syndicate one task immediately, skipping delay and hour checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			d, err := newDispatcher()
			if err != nil {
				return err
			}

			result, err := d.SyndicateNow(context.Background(), id)
			if err != nil {
				return err
			}

			printDispatchResult(result)
			return nil
		},
	}
	return cmd
}

func printDispatchResult(result dispatch.Result) {
	fmt.Printf("\n=== Syndication Result ===\n")
	fmt.Printf("Status:  %s\n", result.Status)
	fmt.Printf("Message: %s\n", result.Message)
	if result.TaskID != 0 {
		fmt.Printf("Task:    %d (%s via %s)\n", result.TaskID, result.ContentID, result.Service)
	}
	if result.SyndicatedURL != "" {
		fmt.Printf("URL:     %s\n", result.SyndicatedURL)
	}
}

// ============ WATCH COMMANDS ============

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the site feed for new content",
	}

	cmd.AddCommand(watchRunCmd())
	return cmd
}

func watchRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the feed once and enqueue new items",
		RunE: func(cmd *cobra.Command, args []string) error {
			limiter := ratelimit.NewDefaultLimiter()
			watcher := feed.New(cfg.Feed, cfg.Syndication, store, repo, cfg.EnabledServices(), limiter, log)

			sum, err := watcher.Run(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Feed Poll ===\n")
			fmt.Printf("Entries Seen:    %d\n", sum.ItemsSeen)
			fmt.Printf("Entries Matched: %d\n", sum.ItemsMatched)
			fmt.Printf("Tasks Enqueued:  %d\n", sum.TasksEnqueued)

			return nil
		},
	}
	return cmd
}
