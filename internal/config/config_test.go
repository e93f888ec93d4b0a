package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/scanner")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 500, cfg.JobRegistrySize)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, time.Second, cfg.PartitionCooldown)
	assert.Equal(t, 10, cfg.ReplyLimit)
	assert.Equal(t, 50, cfg.DefaultLimitPerPartition)
	assert.Equal(t, "NarrativeScanner/1.0", cfg.RedditUserAgent)
	assert.Len(t, cfg.Subreddits, 10)
	assert.Equal(t, "solana", cfg.Subreddits[0])
	assert.Equal(t, []string{"top", "new", "best"}, cfg.HackerNewsFeeds)
	assert.False(t, cfg.RedditConfigured())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/scanner")
	t.Setenv("REDDIT_SUBREDDITS", "solana,memecoins")
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")
	t.Setenv("PARTITION_COOLDOWN", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"solana", "memecoins"}, cfg.Subreddits)
	assert.Equal(t, 250*time.Millisecond, cfg.PartitionCooldown)
	assert.True(t, cfg.RedditConfigured())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))

	_, err := Load()
	assert.Error(t, err)

	cfg, err := LoadSourcesOnly()
	require.NoError(t, err)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestConfig_validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:              "postgres://localhost/scanner",
			JobRegistrySize:          10,
			MaxConcurrentCrawls:      1,
			ReplyLimit:               10,
			DefaultLimitPerPartition: 50,
			RedditRequestsPerMinute:  60,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "Missing database URL", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "Email without SMTP", mutate: func(c *Config) { c.NotificationEmail = "ops@example.com" }, wantErr: true},
		{
			name: "Email with SMTP",
			mutate: func(c *Config) {
				c.NotificationEmail = "ops@example.com"
				c.SMTPHost = "smtp.example.com"
				c.SMTPUsername = "bot"
				c.SMTPPassword = "pw"
			},
			wantErr: false,
		},
		{name: "Zero registry size", mutate: func(c *Config) { c.JobRegistrySize = 0 }, wantErr: true},
		{name: "Zero concurrency", mutate: func(c *Config) { c.MaxConcurrentCrawls = 0 }, wantErr: true},
		{name: "Negative reply limit", mutate: func(c *Config) { c.ReplyLimit = -1 }, wantErr: true},
		{name: "Zero default limit", mutate: func(c *Config) { c.DefaultLimitPerPartition = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.validate(true)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
