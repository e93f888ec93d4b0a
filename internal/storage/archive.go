package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/narrativescanner/scanner/internal/models"
)

const jobPrefix = "jobs/"

// JobArchive keeps finished ingestion jobs after they leave the in-process
// registry, so their status stays queryable.
type JobArchive struct {
	blobs BlobStore
}

// NewJobArchive creates an archive on top of a blob store
func NewJobArchive(blobs BlobStore) *JobArchive {
	return &JobArchive{blobs: blobs}
}

// ArchiveJob writes the job as jobs/<id>.json
func (a *JobArchive) ArchiveJob(ctx context.Context, job models.IngestionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return a.blobs.Store(ctx, jobBlobName(job.ID), data)
}

// LookupJob reads back an archived job, returning ErrNotFound if it was never
// archived.
func (a *JobArchive) LookupJob(ctx context.Context, id string) (models.IngestionJob, error) {
	data, err := a.blobs.Retrieve(ctx, jobBlobName(id))
	if err != nil {
		return models.IngestionJob{}, err
	}

	var job models.IngestionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return models.IngestionJob{}, fmt.Errorf("failed to decode archived job %s: %w", id, err)
	}
	return job, nil
}

func jobBlobName(id string) string {
	return jobPrefix + id + ".json"
}
