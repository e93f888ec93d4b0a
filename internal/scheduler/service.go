package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/narrativescanner/scanner/internal/ingestion"
	"github.com/narrativescanner/scanner/internal/jobs"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Submitter starts ingestion jobs
type Submitter interface {
	Submit(ctx context.Context, source models.Source, req ingestion.CrawlRequest) (models.IngestionJob, error)
}

// Service handles scheduling of ingestion crawls
type Service struct {
	schedule  string
	sources   []models.Source
	limit     int
	submitter Submitter
	cron      *cron.Cron
}

// NewService creates a new scheduler service. An empty schedule disables it.
func NewService(schedule string, sources []models.Source, limitPerPartition int, submitter Submitter) *Service {
	return &Service{
		schedule:  schedule,
		sources:   sources,
		limit:     limitPerPartition,
		submitter: submitter,
		cron:      cron.New(cron.WithSeconds()),
	}
}

// Start begins the scheduled crawls
func (s *Service) Start() error {
	if s.schedule == "" {
		logrus.Info("Scheduled ingestion disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %q schedule for %v", s.schedule, s.sources)
	return nil
}

// RunOnce submits one crawl job per scheduled source. Sources without
// credentials are skipped.
func (s *Service) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, source := range s.sources {
		job, err := s.submitter.Submit(ctx, source, ingestion.CrawlRequest{LimitPerPartition: s.limit})
		switch {
		case errors.Is(err, jobs.ErrSourceNotConfigured):
			logrus.Infof("Skipping scheduled %s crawl: source not configured", source)
		case err != nil:
			logrus.Errorf("Scheduled %s crawl failed to start: %v", source, err)
		default:
			logrus.Infof("Scheduled %s crawl started as job %s", source, job.ID)
		}
	}
}

// Stop stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
