package storage

import (
	"context"
	"errors"
	"time"

	"github.com/narrativescanner/scanner/internal/models"
)

// ErrNotFound is returned when a requested object does not exist
var ErrNotFound = errors.New("not found")

// MentionStore persists normalized mentions. Saving is idempotent on the
// (source, source_id) key.
type MentionStore interface {
	// SaveMention reports inserted=false without error when the mention
	// already exists.
	SaveMention(ctx context.Context, mention models.Mention) (inserted bool, err error)
	ListMentions(ctx context.Context, filter MentionFilter) ([]models.StoredMention, error)
	Ping(ctx context.Context) error
}

// MentionFilter narrows ListMentions. Zero fields do not filter.
type MentionFilter struct {
	Source models.Source
	Since  *time.Time
	Limit  int
}

// BlobStore defines the contract for object storage operations
type BlobStore interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
}
