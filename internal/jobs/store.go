// Package jobs tracks asynchronous ingestion jobs from submission to a
// terminal state.
package jobs

import (
	"context"
	"errors"

	"github.com/narrativescanner/scanner/internal/models"
)

var (
	// ErrJobNotFound is returned for ids the registry and archive do not know
	ErrJobNotFound = errors.New("job not found")
	// ErrUnknownSource is returned when no crawler exists for a source
	ErrUnknownSource = errors.New("unknown source")
	// ErrSourceNotConfigured is returned when a source lacks credentials
	ErrSourceNotConfigured = errors.New("source not configured")
	// ErrInvalidTransition is returned for status changes that would move a
	// job backwards or out of a terminal state
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// DefaultListLimit is the page size used when a caller does not ask for one
const DefaultListLimit = 10

// Store is a job registry. Implementations must make Update atomic with
// respect to concurrent readers and writers of the same job.
type Store interface {
	Create(ctx context.Context, job models.IngestionJob) error
	Update(ctx context.Context, id string, fn func(job *models.IngestionJob) error) (models.IngestionJob, error)
	Get(ctx context.Context, id string) (models.IngestionJob, error)
	// List returns the limit most recently created jobs, oldest first. An
	// empty source lists every source and a non-positive limit lists nothing.
	List(ctx context.Context, source models.Source, limit int) ([]models.IngestionJob, error)
}
