package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string `env:"PORT" env-default:"8080"`
	Debug bool   `env:"DEBUG" env-default:"false"`

	// Database configuration
	DatabaseURL      string `env:"DATABASE_URL" env-required:"true"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" env-default:"20"`
	AutoMigrate      bool   `env:"DB_AUTO_MIGRATE" env-default:"true"`

	// Job registry configuration. An empty RedisURL keeps jobs in memory.
	RedisURL            string        `env:"REDIS_URL"`
	JobRegistrySize     int           `env:"JOB_REGISTRY_SIZE" env-default:"500"`
	JobRetention        time.Duration `env:"JOB_RETENTION" env-default:"24h"`
	MaxConcurrentCrawls int           `env:"MAX_CONCURRENT_CRAWLS" env-default:"2"`

	// Crawl configuration
	PartitionCooldown        time.Duration `env:"PARTITION_COOLDOWN" env-default:"1s"`
	ReplyLimit               int           `env:"REPLY_LIMIT" env-default:"10"`
	DefaultLimitPerPartition int           `env:"DEFAULT_LIMIT_PER_PARTITION" env-default:"50"`

	// Schedule configuration. An empty IngestSchedule disables scheduled crawls.
	IngestSchedule   string   `env:"INGEST_SCHEDULE" env-default:"0 0 */6 * * *"`
	ScheduledSources []string `env:"SCHEDULED_SOURCES" env-default:"reddit" env-separator:","`

	// Azure Storage configuration, used to archive finished jobs
	StorageAccount   string `env:"AZURE_STORAGE_ACCOUNT"`
	StorageContainer string `env:"AZURE_STORAGE_CONTAINER" env-default:"ingestion-jobs"`

	// Notification configuration
	TeamsWebhookURL   string `env:"TEAMS_WEBHOOK_URL"`
	NotificationEmail string `env:"NOTIFICATION_EMAIL"`
	SMTPHost          string `env:"SMTP_HOST"`
	SMTPPort          int    `env:"SMTP_PORT" env-default:"587"`
	SMTPUsername      string `env:"SMTP_USERNAME"`
	SMTPPassword      string `env:"SMTP_PASSWORD"`

	// API Keys and credentials
	RedditClientID          string   `env:"REDDIT_CLIENT_ID"`
	RedditClientSecret      string   `env:"REDDIT_CLIENT_SECRET"`
	RedditUserAgent         string   `env:"REDDIT_USER_AGENT" env-default:"NarrativeScanner/1.0"`
	RedditRequestsPerMinute int      `env:"REDDIT_REQUESTS_PER_MINUTE" env-default:"60"`
	TelegramAPIID           string   `env:"TELEGRAM_API_ID"`
	TwitterBearerToken      string   `env:"TWITTER_BEARER_TOKEN"`
	TwitterQueries          []string `env:"TWITTER_QUERIES" env-default:"solana,memecoin,bonk" env-separator:","`
	HackerNewsFeeds         []string `env:"HACKERNEWS_FEEDS" env-default:"top,new,best" env-separator:","`

	// Partitions to crawl when a request does not override them
	Subreddits []string `env:"REDDIT_SUBREDDITS" env-default:"solana,SolanaMemeCoin,CryptoMoonShots,CryptoCurrency,altcoin,SatoshiStreetBets,memecoins,dogecoin,SafeMoon,shitcoin" env-separator:","`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return load(true)
}

// LoadSourcesOnly loads configuration for tools that crawl without a database
func LoadSourcesOnly() (*Config, error) {
	return load(false)
}

func load(requireDatabase bool) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	// Validate required configuration
	if err := cfg.validate(requireDatabase); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate(requireDatabase bool) error {
	if requireDatabase && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.JobRegistrySize <= 0 {
		return fmt.Errorf("JOB_REGISTRY_SIZE must be positive")
	}
	if c.MaxConcurrentCrawls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_CRAWLS must be positive")
	}
	if c.ReplyLimit < 0 {
		return fmt.Errorf("REPLY_LIMIT must not be negative")
	}
	if c.DefaultLimitPerPartition <= 0 {
		return fmt.Errorf("DEFAULT_LIMIT_PER_PARTITION must be positive")
	}
	if c.RedditRequestsPerMinute <= 0 {
		return fmt.Errorf("REDDIT_REQUESTS_PER_MINUTE must be positive")
	}

	return nil
}

// RedditConfigured reports whether Reddit API credentials are present
func (c *Config) RedditConfigured() bool {
	return c.RedditClientID != "" && c.RedditClientSecret != ""
}
