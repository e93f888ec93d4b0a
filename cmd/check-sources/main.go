package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/narrativescanner/scanner/internal/config"
	"github.com/narrativescanner/scanner/internal/sources"
)

func main() {
	sample := flag.Int("sample", 3, "posts to fetch from each source's first partition")
	flag.Parse()

	fmt.Println("🔍 Narrative Scanner - Source Connectivity Check")
	fmt.Println("================================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadSourcesOnly()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("\n📡 Checking sources...")
	fmt.Println(strings.Repeat("-", 40))

	checkSource(ctx, "Reddit", sources.NewRedditSource(sources.RedditOptions{
		ClientID:          cfg.RedditClientID,
		ClientSecret:      cfg.RedditClientSecret,
		UserAgent:         cfg.RedditUserAgent,
		Subreddits:        cfg.Subreddits,
		RequestsPerMinute: cfg.RedditRequestsPerMinute,
	}), *sample)
	checkSource(ctx, "Hacker News", sources.NewHackerNewsSource("", cfg.HackerNewsFeeds), *sample)
	checkSource(ctx, "Twitter/X", sources.NewTwitterSource(sources.TwitterOptions{
		BearerToken: cfg.TwitterBearerToken,
		Queries:     cfg.TwitterQueries,
	}), *sample)

	fmt.Println("\n✅ Source check completed!")
}

func checkSource(ctx context.Context, name string, source sources.Source, sample int) {
	fmt.Printf("🔸 Checking %s... ", name)

	if !source.IsEnabled() {
		fmt.Printf("⚠️  DISABLED (missing credentials)\n")
		return
	}

	if err := source.CheckConnection(ctx); err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}

	partitions := source.DefaultPartitions()
	if len(partitions) == 0 || sample <= 0 {
		fmt.Printf("✅ CONNECTED\n")
		return
	}

	posts, err := source.FetchPosts(ctx, partitions[0], sample)
	if err != nil {
		fmt.Printf("❌ ERROR fetching %s: %v\n", partitions[0], err)
		return
	}

	fmt.Printf("✅ CONNECTED (%d posts from %s)\n", len(posts), partitions[0])

	if len(posts) > 0 {
		mention, err := posts[0].Normalize()
		if err != nil || mention.Text == nil {
			return
		}
		text := []rune(*mention.Text)
		if len(text) > 80 {
			text = append(text[:80], []rune("...")...)
		}
		fmt.Printf("   📝 Sample: \"%s\" tickers=%v\n", string(text), mention.Entities.Tickers)
	}
}
