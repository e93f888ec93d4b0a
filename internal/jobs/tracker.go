package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narrativescanner/scanner/internal/ingestion"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/narrativescanner/scanner/internal/sources"
	"github.com/narrativescanner/scanner/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	queuedMessage   = "Job queued for processing"
	finalizeTimeout = 10 * time.Second
)

// Crawler runs one crawl to completion
type Crawler interface {
	Crawl(ctx context.Context, src sources.Source, req ingestion.CrawlRequest, progress ingestion.ProgressFunc) (ingestion.Result, error)
}

// Archive keeps finished jobs beyond the registry's retention
type Archive interface {
	ArchiveJob(ctx context.Context, job models.IngestionJob) error
	LookupJob(ctx context.Context, id string) (models.IngestionJob, error)
}

// Notifier is told about every job that reaches a terminal state
type Notifier interface {
	SendJobSummary(job models.IngestionJob) error
}

// Options configures a Tracker. Archive and Notifier are optional.
type Options struct {
	MaxConcurrentCrawls int
	Archive             Archive
	Notifier            Notifier
}

// Tracker accepts crawl submissions, runs each one in its own goroutine and
// records the job lifecycle in a Store.
type Tracker struct {
	store    Store
	crawler  Crawler
	sources  map[models.Source]sources.Source
	slots    map[models.Source]*semaphore.Weighted
	archive  Archive
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	now func() time.Time
}

// NewTracker creates a tracker for the given sources
func NewTracker(store Store, crawler Crawler, srcs []sources.Source, opts Options) *Tracker {
	if opts.MaxConcurrentCrawls <= 0 {
		opts.MaxConcurrentCrawls = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		store:    store,
		crawler:  crawler,
		sources:  make(map[models.Source]sources.Source, len(srcs)),
		slots:    make(map[models.Source]*semaphore.Weighted, len(srcs)),
		archive:  opts.Archive,
		notifier: opts.Notifier,
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, src := range srcs {
		t.sources[src.GetName()] = src
		t.slots[src.GetName()] = semaphore.NewWeighted(int64(opts.MaxConcurrentCrawls))
	}

	return t
}

// Source returns the crawler registered under name
func (t *Tracker) Source(name models.Source) (sources.Source, bool) {
	src, ok := t.sources[name]
	return src, ok
}

// Submit records a queued job and starts it in the background. It fails fast,
// without creating a job, when the source is unknown, lacks credentials or
// cannot crawl one of the requested partitions.
func (t *Tracker) Submit(ctx context.Context, name models.Source, req ingestion.CrawlRequest) (models.IngestionJob, error) {
	src, ok := t.sources[name]
	if !ok {
		return models.IngestionJob{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	if !src.IsEnabled() {
		return models.IngestionJob{}, fmt.Errorf("%w: %s", ErrSourceNotConfigured, name)
	}
	for _, partition := range req.Partitions {
		if err := src.ValidatePartition(partition); err != nil {
			return models.IngestionJob{}, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return models.IngestionJob{}, errors.New("tracker is shutting down")
	}

	job := models.IngestionJob{
		ID:        uuid.NewString(),
		Source:    name,
		Status:    models.JobQueued,
		Message:   queuedMessage,
		StartedAt: t.now(),
	}
	if err := t.store.Create(ctx, job); err != nil {
		return models.IngestionJob{}, fmt.Errorf("failed to record job: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"job_id": job.ID,
		"source": name,
	}).Info("Ingestion job queued")

	t.wg.Add(1)
	go t.run(job.ID, src, req)

	return job.Clone(), nil
}

// Get returns a job from the registry, falling back to the archive for jobs
// the registry no longer holds.
func (t *Tracker) Get(ctx context.Context, id string) (models.IngestionJob, error) {
	job, err := t.store.Get(ctx, id)
	if err == nil || !errors.Is(err, ErrJobNotFound) || t.archive == nil {
		return job, err
	}

	job, err = t.archive.LookupJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.IngestionJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.IngestionJob{}, fmt.Errorf("archive lookup of job %s: %w", id, err)
	}
	return job, nil
}

// List returns the limit most recently created jobs, oldest first
func (t *Tracker) List(ctx context.Context, limit int) ([]models.IngestionJob, error) {
	return t.store.List(ctx, "", limit)
}

// ListBySource is List restricted to one source
func (t *Tracker) ListBySource(ctx context.Context, name models.Source, limit int) ([]models.IngestionJob, error) {
	return t.store.List(ctx, name, limit)
}

// Evicted is the registry eviction hook. Finished jobs were archived when they
// completed; anything else is lost and logged.
func (t *Tracker) Evicted(job models.IngestionJob) {
	if job.Status.Terminal() {
		logrus.Debugf("Job %s left the registry", job.ID)
		return
	}
	logrus.Warnf("Job %s evicted from the registry while %s", job.ID, job.Status)
}

// Shutdown stops accepting jobs, cancels running crawls and waits for their
// goroutines to record a final state.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run(id string, src sources.Source, req ingestion.CrawlRequest) {
	defer t.wg.Done()

	name := src.GetName()
	log := logrus.WithFields(logrus.Fields{
		"job_id": id,
		"source": name,
	})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Ingestion job panicked: %v", r)
			t.finish(id, name, 0, fmt.Errorf("panic: %v", r))
		}
	}()

	slot := t.slots[name]
	if err := slot.Acquire(t.ctx, 1); err != nil {
		t.finish(id, name, 0, err)
		return
	}
	defer slot.Release(1)

	_, err := t.store.Update(t.ctx, id, func(job *models.IngestionJob) error {
		if !job.Status.CanTransitionTo(models.JobRunning) {
			return ErrInvalidTransition
		}
		job.Status = models.JobRunning
		job.Message = fmt.Sprintf("Starting %s ingestion...", name.DisplayName())
		return nil
	})
	if err != nil {
		log.Errorf("Failed to mark job running: %v", err)
		t.finish(id, name, 0, err)
		return
	}
	log.Info("Ingestion job running")

	result, err := t.crawler.Crawl(t.ctx, src, req, func(progress models.JobProgress) {
		_, perr := t.store.Update(t.ctx, id, func(job *models.IngestionJob) error {
			if job.Status != models.JobRunning {
				return ErrInvalidTransition
			}
			job.Progress = &progress
			return nil
		})
		if perr != nil {
			log.Warnf("Failed to record progress: %v", perr)
		}
	})

	t.finish(id, name, result.Saved, err)
}

// finish moves a job to completed or failed. It runs on a context detached
// from shutdown so cancelled jobs still get a final state.
func (t *Tracker) finish(id string, name models.Source, saved int, crawlErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), finalizeTimeout)
	defer cancel()

	next := models.JobCompleted
	if crawlErr != nil {
		next = models.JobFailed
	}

	job, err := t.store.Update(ctx, id, func(job *models.IngestionJob) error {
		if !job.Status.CanTransitionTo(next) {
			return ErrInvalidTransition
		}
		completedAt := t.now()
		job.Status = next
		job.CompletedAt = &completedAt
		if crawlErr != nil {
			job.Message = fmt.Sprintf("%s ingestion failed: %v", name.DisplayName(), crawlErr)
		} else {
			job.MentionsCount = saved
			job.Message = fmt.Sprintf("Successfully ingested %d mentions from %s", saved, name.DisplayName())
		}
		return nil
	})

	log := logrus.WithFields(logrus.Fields{
		"job_id": id,
		"source": name,
	})
	if err != nil {
		log.Errorf("Failed to record final job state: %v", err)
		return
	}
	log.Info(job.Message)

	if t.archive != nil {
		if err := t.archive.ArchiveJob(ctx, job); err != nil {
			log.Errorf("Failed to archive job: %v", err)
		}
	}
	if t.notifier != nil {
		if err := t.notifier.SendJobSummary(job); err != nil {
			log.Errorf("Failed to send job notification: %v", err)
		}
	}
}
