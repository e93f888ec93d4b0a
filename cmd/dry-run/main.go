package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/narrativescanner/scanner/internal/config"
	"github.com/narrativescanner/scanner/internal/ingestion"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/narrativescanner/scanner/internal/sources"
	"github.com/narrativescanner/scanner/internal/storage"
)

// consoleStore prints mentions instead of persisting them
type consoleStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (s *consoleStore) SaveMention(_ context.Context, mention models.Mention) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(mention.Source) + "/" + mention.SourceID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}

	text := ""
	if mention.Text != nil {
		text = strings.ReplaceAll(*mention.Text, "\n", " ")
		if runes := []rune(text); len(runes) > 60 {
			text = string(runes[:60]) + "..."
		}
	}
	fmt.Printf("   • %-20s %s\n", mention.SourceID, text)
	if len(mention.Entities.Tickers) > 0 {
		fmt.Printf("     tickers: %v\n", mention.Entities.Tickers)
	}
	return true, nil
}

func (s *consoleStore) ListMentions(context.Context, storage.MentionFilter) ([]models.StoredMention, error) {
	return nil, errors.New("console store does not keep mentions")
}

func (s *consoleStore) Ping(context.Context) error { return nil }

func main() {
	source := flag.String("source", "hackernews", "source to crawl (reddit, hackernews or twitter)")
	partitions := flag.String("partitions", "", "comma separated partitions, defaults to the source's configured list")
	limit := flag.Int("limit", 5, "posts per partition")
	flag.Parse()

	fmt.Println("🧪 Narrative Scanner - Dry Run")
	fmt.Println("==============================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadSourcesOnly()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var src sources.Source
	switch models.Source(*source) {
	case models.SourceReddit:
		src = sources.NewRedditSource(sources.RedditOptions{
			ClientID:          cfg.RedditClientID,
			ClientSecret:      cfg.RedditClientSecret,
			UserAgent:         cfg.RedditUserAgent,
			Subreddits:        cfg.Subreddits,
			RequestsPerMinute: cfg.RedditRequestsPerMinute,
		})
	case models.SourceHackerNews:
		src = sources.NewHackerNewsSource("", cfg.HackerNewsFeeds)
	case models.SourceTwitter:
		src = sources.NewTwitterSource(sources.TwitterOptions{
			BearerToken: cfg.TwitterBearerToken,
			Queries:     cfg.TwitterQueries,
		})
	default:
		log.Fatalf("Unknown source %q", *source)
	}

	if !src.IsEnabled() {
		log.Fatalf("%s is not configured", src.GetName().DisplayName())
	}

	req := ingestion.CrawlRequest{LimitPerPartition: *limit}
	if *partitions != "" {
		req.Partitions = strings.Split(*partitions, ",")
	}

	orchestrator := ingestion.NewOrchestrator(&consoleStore{seen: make(map[string]struct{})}, ingestion.Options{
		ReplyLimit:        cfg.ReplyLimit,
		PartitionCooldown: cfg.PartitionCooldown,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Printf("🔍 Crawling %s...\n", src.GetName().DisplayName())
	result, err := orchestrator.Crawl(ctx, src, req, func(p models.JobProgress) {
		fmt.Printf("🔸 %d/%d partitions done (%s)\n", p.PartitionsDone, p.PartitionsTotal, p.CurrentPartition)
	})
	if err != nil {
		log.Fatalf("❌ Crawl failed: %v", err)
	}

	fmt.Printf("\n📊 %d mentions saved, %d skipped\n", result.Saved, result.Skipped)
	if len(result.FailedPartitions) > 0 {
		fmt.Printf("⚠️  Failed partitions: %s\n", strings.Join(result.FailedPartitions, ", "))
	}
	fmt.Println("\n✅ Dry run completed!")
}
