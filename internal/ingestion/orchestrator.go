// Package ingestion crawls a source partition by partition and persists the
// normalized mentions.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narrativescanner/scanner/internal/models"
	"github.com/narrativescanner/scanner/internal/sources"
	"github.com/narrativescanner/scanner/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultLimitPerPartition applies when a request does not set a limit
const DefaultLimitPerPartition = 50

// ErrNoPartitions is returned when neither the request nor the source names
// anything to crawl.
var ErrNoPartitions = errors.New("no partitions to crawl")

// CrawlRequest parameterizes one crawl. Empty Partitions means the source
// defaults.
type CrawlRequest struct {
	Partitions        []string
	LimitPerPartition int
}

// Result summarizes a crawl. Saved counts every successful save call, so
// duplicates are included.
type Result struct {
	Saved            int
	Inserted         int
	Duplicates       int
	Skipped          int
	FailedPartitions []string
}

// ProgressFunc receives a snapshot after every partition
type ProgressFunc func(models.JobProgress)

// Options tune an Orchestrator
type Options struct {
	ReplyLimit        int
	PartitionCooldown time.Duration
	DefaultLimit      int
}

// Orchestrator runs crawls against any source
type Orchestrator struct {
	store   storage.MentionStore
	opts    Options
	metrics *Metrics

	// sleep waits between partitions; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a new crawl orchestrator
func NewOrchestrator(store storage.MentionStore, opts Options) *Orchestrator {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimitPerPartition
	}
	if opts.ReplyLimit < 0 {
		opts.ReplyLimit = 0
	}

	return &Orchestrator{
		store:   store,
		opts:    opts,
		metrics: NewMetrics(),
		sleep:   sleepContext,
	}
}

// Metrics exposes the orchestrator's running totals
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Crawl visits every partition in order. A failing partition is logged and
// recorded, and the crawl moves on; only cancellation aborts the whole run.
func (o *Orchestrator) Crawl(ctx context.Context, src sources.Source, req CrawlRequest, progress ProgressFunc) (Result, error) {
	start := time.Now()
	name := src.GetName()

	partitions := req.Partitions
	if len(partitions) == 0 {
		partitions = src.DefaultPartitions()
	}
	if len(partitions) == 0 {
		return Result{}, ErrNoPartitions
	}

	limit := req.LimitPerPartition
	if limit <= 0 {
		limit = o.opts.DefaultLimit
	}

	logrus.Infof("Starting %s crawl of %d partitions (limit %d)", name, len(partitions), limit)

	var result Result
	for i, partition := range partitions {
		if i > 0 && o.opts.PartitionCooldown > 0 {
			if err := o.sleep(ctx, o.opts.PartitionCooldown); err != nil {
				o.metrics.record(name, result, time.Since(start), err)
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			o.metrics.record(name, result, time.Since(start), err)
			return result, err
		}

		before := result.Saved
		if err := o.crawlPartition(ctx, src, partition, limit, &result); err != nil {
			if ctx.Err() != nil {
				o.metrics.record(name, result, time.Since(start), err)
				return result, ctx.Err()
			}
			logrus.WithFields(logrus.Fields{
				"source":    name,
				"partition": partition,
			}).Errorf("Partition crawl failed: %v", err)
			result.FailedPartitions = append(result.FailedPartitions, partition)
		}

		logrus.WithFields(logrus.Fields{
			"source":    name,
			"partition": partition,
		}).Infof("Saved %d mentions", result.Saved-before)

		if progress != nil {
			progress(models.JobProgress{
				PartitionsTotal:  len(partitions),
				PartitionsDone:   i + 1,
				CurrentPartition: partition,
				FailedPartitions: append([]string(nil), result.FailedPartitions...),
				Inserted:         result.Inserted,
				Duplicates:       result.Duplicates,
				Skipped:          result.Skipped,
			})
		}
	}

	o.metrics.record(name, result, time.Since(start), nil)
	logrus.Infof("%s crawl complete in %v. Total mentions: %d", name.DisplayName(), time.Since(start), result.Saved)
	return result, nil
}

// crawlPartition saves each post followed by its replies. Item level failures
// are counted as skipped; fetch failures abort the partition. Posts returned
// alongside a paging error are still saved before the partition fails.
func (o *Orchestrator) crawlPartition(ctx context.Context, src sources.Source, partition string, limit int, result *Result) error {
	posts, fetchErr := src.FetchPosts(ctx, partition, limit)
	if fetchErr != nil {
		if ctx.Err() != nil || len(posts) == 0 {
			return fmt.Errorf("fetch posts: %w", fetchErr)
		}
		logrus.WithFields(logrus.Fields{
			"source":    src.GetName(),
			"partition": partition,
		}).Warnf("Saving %d posts fetched before error: %v", len(posts), fetchErr)
	}

	for _, post := range posts {
		o.save(ctx, post, result)

		if o.opts.ReplyLimit == 0 {
			continue
		}
		replies, err := src.FetchReplies(ctx, post, o.opts.ReplyLimit)
		if err != nil {
			return fmt.Errorf("fetch replies of %s: %w", post.SourceID(), err)
		}
		for _, reply := range replies {
			o.save(ctx, reply, result)
		}
	}

	if fetchErr != nil {
		return fmt.Errorf("fetch posts: %w", fetchErr)
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, item sources.Item, result *Result) {
	mention, err := item.Normalize()
	if err != nil {
		logrus.Warnf("Skipping %s: %v", item.SourceID(), err)
		result.Skipped++
		return
	}

	inserted, err := o.store.SaveMention(ctx, mention)
	if err != nil {
		logrus.Errorf("Error saving mention %s: %v", mention.SourceID, err)
		result.Skipped++
		return
	}

	result.Saved++
	if inserted {
		result.Inserted++
		logrus.Debugf("Saved mention: %s", mention.SourceID)
	} else {
		result.Duplicates++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
