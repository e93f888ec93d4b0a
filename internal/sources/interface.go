package sources

import (
	"context"
	"errors"

	"github.com/narrativescanner/scanner/internal/models"
)

// ErrNotConfigured is returned when a source is used without its credentials
var ErrNotConfigured = errors.New("source is not configured")

// ErrInvalidPartition is returned for partition names a source cannot crawl
var ErrInvalidPartition = errors.New("invalid partition")

// Source interface defines the contract for all crawlable platforms.
// A partition is a named content channel (a subreddit, a Hacker News feed)
// that is crawled independently.
type Source interface {
	GetName() models.Source
	IsEnabled() bool
	DefaultPartitions() []string
	ValidatePartition(partition string) error
	FetchPosts(ctx context.Context, partition string, limit int) ([]Item, error)
	FetchReplies(ctx context.Context, post Item, limit int) ([]Item, error)
	CheckConnection(ctx context.Context) error
}

// Item is a platform-native post or reply awaiting normalization
type Item interface {
	SourceID() string
	Normalize() (models.Mention, error)
}
