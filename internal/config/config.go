package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig           `mapstructure:"database"`
	Content     ContentConfig            `mapstructure:"content"`
	Feed        FeedConfig               `mapstructure:"feed"`
	Syndication SyndicationConfig        `mapstructure:"syndication"`
	Services    map[string]ServiceConfig `mapstructure:"services"`
	Scheduler   SchedulerConfig          `mapstructure:"scheduler"`
	Logging     LoggingConfig            `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // SQLite file path
}

// ContentConfig holds settings for the local content store
type ContentConfig struct {
	Dir string `mapstructure:"dir"` // directory of content item YAML files
}

// FeedConfig holds settings for watching the owned site's feed
type FeedConfig struct {
	URL          string   `mapstructure:"url"`           // RSS/Atom feed of the owned site
	ContentTypes []string `mapstructure:"content_types"` // feed categories to track; empty tracks all
}

// SyndicationConfig holds queue and rendering settings shared by all services
type SyndicationConfig struct {
	DelayMinutes         int    `mapstructure:"delay_minutes"`           // enqueue-to-ready delay
	ImagePreset          string `mapstructure:"image_preset"`            // e.g. "1800w" or "square-600"
	UseOriginalImageSize bool   `mapstructure:"use_original_image_size"` // skip resizing
	DefaultTemplate      string `mapstructure:"default_template"`        // fallback post template
}

// Delay returns the configured enqueue delay as a duration.
func (s SyndicationConfig) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

// ServiceConfig holds per-platform settings
type ServiceConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	InstanceURL string `mapstructure:"instance_url"`
	// APIToken is a bearer token for Mastodon, or "handle:app-password"
	// for Bluesky.
	APIToken   string `mapstructure:"api_token"`
	ImageLimit int    `mapstructure:"image_limit"`
	Template   string `mapstructure:"template"` // service-specific post template
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	SyndicateCron string `mapstructure:"syndicate_cron"`
	WatchCron     string `mapstructure:"watch_cron"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in current directory and configs folder
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		// Also check user's home directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".posse"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("POSSE")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("database.dsn", "POSSE_DATABASE_DSN")
	v.BindEnv("content.dir", "POSSE_CONTENT_DIR")
	v.BindEnv("feed.url", "POSSE_FEED_URL")
	v.BindEnv("services.mastodon.instance_url", "POSSE_MASTODON_INSTANCE_URL")
	v.BindEnv("services.mastodon.api_token", "POSSE_MASTODON_API_TOKEN")
	v.BindEnv("services.mastodon.enabled", "POSSE_MASTODON_ENABLED")
	v.BindEnv("services.bluesky.instance_url", "POSSE_BLUESKY_INSTANCE_URL")
	v.BindEnv("services.bluesky.api_token", "POSSE_BLUESKY_API_TOKEN")
	v.BindEnv("services.bluesky.enabled", "POSSE_BLUESKY_ENABLED")
	v.BindEnv("syndication.delay_minutes", "POSSE_SYNDICATION_DELAY_MINUTES")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.dsn", "./data/posse.db")

	// Content defaults
	v.SetDefault("content.dir", "./data/content")

	// Syndication defaults
	v.SetDefault("syndication.delay_minutes", 60)
	v.SetDefault("syndication.image_preset", "1800w")
	v.SetDefault("syndication.use_original_image_size", false)
	v.SetDefault("syndication.default_template", "{{.Title}}\n\n{{.URL}}\n\n{{.Hashtags}}")

	// Service defaults
	v.SetDefault("services.mastodon.enabled", false)
	v.SetDefault("services.mastodon.image_limit", 4)
	v.SetDefault("services.bluesky.enabled", false)
	v.SetDefault("services.bluesky.instance_url", "https://bsky.social")
	v.SetDefault("services.bluesky.image_limit", 4)

	// Scheduler defaults
	v.SetDefault("scheduler.syndicate_cron", "5 * * * *") // hourly, 5 past
	v.SetDefault("scheduler.watch_cron", "*/15 * * * *")  // every 15 minutes

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Content.Dir == "" {
		return fmt.Errorf("content.dir is required")
	}
	if c.Syndication.DelayMinutes < 0 {
		return fmt.Errorf("syndication.delay_minutes must not be negative")
	}
	return nil
}

// Service returns the configuration for a named service, if present.
func (c *Config) Service(name string) (ServiceConfig, bool) {
	svc, ok := c.Services[name]
	return svc, ok
}

// EnabledServices returns the names of all enabled services in stable order.
func (c *Config) EnabledServices() []string {
	var names []string
	for name, svc := range c.Services {
		if svc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
