package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/narrativescanner/scanner/internal/entities"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultHackerNewsURL = "https://hacker-news.firebaseio.com/v0"

var hackerNewsFeeds = map[string]bool{
	"top":  true,
	"new":  true,
	"best": true,
	"ask":  true,
	"show": true,
	"job":  true,
}

// HackerNewsSource implements Hacker News API source. Partitions are the
// public story feeds.
type HackerNewsSource struct {
	client  *resty.Client
	baseURL string
	feeds   []string
}

// HackerNewsItem is a story or comment from the Firebase API
type HackerNewsItem struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Text        string  `json:"text"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Kids        []int64 `json:"kids"`
	Parent      int64   `json:"parent"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`

	feed string
}

// NewHackerNewsSource creates a new Hacker News source. An empty baseURL
// points at the public API.
func NewHackerNewsSource(baseURL string, feeds []string) *HackerNewsSource {
	if baseURL == "" {
		baseURL = defaultHackerNewsURL
	}
	return &HackerNewsSource{
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "NarrativeScanner/1.0"),
		baseURL: strings.TrimRight(baseURL, "/"),
		feeds:   feeds,
	}
}

func (h *HackerNewsSource) GetName() models.Source {
	return models.SourceHackerNews
}

func (h *HackerNewsSource) IsEnabled() bool {
	return true // Hacker News API doesn't require authentication
}

func (h *HackerNewsSource) DefaultPartitions() []string {
	return append([]string(nil), h.feeds...)
}

func (h *HackerNewsSource) ValidatePartition(feed string) error {
	if !hackerNewsFeeds[feed] {
		return fmt.Errorf("%w: unknown hacker news feed %q", ErrInvalidPartition, feed)
	}
	return nil
}

func (h *HackerNewsSource) FetchPosts(ctx context.Context, feed string, limit int) ([]Item, error) {
	if err := h.ValidatePartition(feed); err != nil {
		return nil, err
	}

	var itemIDs []int64
	if err := h.getJSON(ctx, fmt.Sprintf("/%sstories.json", feed), &itemIDs); err != nil {
		return nil, fmt.Errorf("failed to get %s stories: %w", feed, err)
	}

	if len(itemIDs) > limit {
		itemIDs = itemIDs[:limit]
	}

	var items []Item
	for _, itemID := range itemIDs {
		item, err := h.getItem(ctx, itemID)
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			logrus.Debugf("Failed to get HN item %d: %v", itemID, err)
			continue
		}
		if item == nil || item.Deleted || item.Dead || item.Time == 0 {
			continue
		}
		item.feed = feed
		items = append(items, *item)
	}

	return items, nil
}

func (h *HackerNewsSource) FetchReplies(ctx context.Context, post Item, limit int) ([]Item, error) {
	story, ok := post.(HackerNewsItem)
	if !ok {
		return nil, fmt.Errorf("hacker news cannot fetch replies for %T", post)
	}

	kids := story.Kids
	if len(kids) > limit {
		kids = kids[:limit]
	}

	var items []Item
	for _, kidID := range kids {
		item, err := h.getItem(ctx, kidID)
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			logrus.Debugf("Failed to get HN comment %d: %v", kidID, err)
			continue
		}
		if item == nil || item.Deleted || item.Dead || item.Text == "" {
			continue
		}
		item.feed = story.feed
		items = append(items, *item)
	}

	return items, nil
}

func (h *HackerNewsSource) CheckConnection(ctx context.Context) error {
	var maxItem int64
	return h.getJSON(ctx, "/maxitem.json", &maxItem)
}

func (h *HackerNewsSource) getItem(ctx context.Context, itemID int64) (*HackerNewsItem, error) {
	var item *HackerNewsItem
	if err := h.getJSON(ctx, fmt.Sprintf("/item/%d.json", itemID), &item); err != nil {
		return nil, err
	}
	return item, nil
}

func (h *HackerNewsSource) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := h.client.R().
		SetContext(ctx).
		Get(h.baseURL + path)

	if err != nil {
		return err
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("hacker news API returned status %d", resp.StatusCode())
	}

	return json.Unmarshal(resp.Body(), out)
}

func (i HackerNewsItem) SourceID() string {
	if i.Type == "comment" {
		return fmt.Sprintf("comment_%d", i.ID)
	}
	return fmt.Sprintf("story_%d", i.ID)
}

func (i HackerNewsItem) Normalize() (models.Mention, error) {
	if i.ID == 0 {
		return models.Mention{}, fmt.Errorf("hacker news item has no id")
	}
	if i.Time == 0 {
		return models.Mention{}, fmt.Errorf("hacker news item %d has no creation time", i.ID)
	}

	text := stripHTMLTags(i.Text)
	metrics := models.HackerNewsMetrics{Feed: i.feed, Score: i.Score, Descendants: i.Descendants}
	if i.Type == "comment" {
		metrics.Parent = i.Parent
	} else if i.Title != "" {
		text = strings.TrimSpace(i.Title + " " + text)
	}

	extracted := hackerNewsExtractor.Extract(text)
	if i.URL != "" && !slices.Contains(extracted.URLs, i.URL) {
		extracted.URLs = append(extracted.URLs, i.URL)
	}

	var author *string
	if i.By != "" {
		by := i.By
		author = &by
	}

	return models.Mention{
		Source:    models.SourceHackerNews,
		SourceID:  i.SourceID(),
		Author:    author,
		Text:      &text,
		URL:       fmt.Sprintf("https://news.ycombinator.com/item?id=%d", i.ID),
		CreatedAt: time.Unix(i.Time, 0).UTC(),
		Metrics:   metrics,
		Lang:      "en",
		Entities:  extracted,
	}, nil
}

// Hacker News has no inline user reference syntax
var hackerNewsExtractor = entities.New()

// stripHTMLTags turns Hacker News comment markup into plain text
func stripHTMLTags(content string) string {
	content = strings.ReplaceAll(content, "<p>", "\n")
	content = strings.ReplaceAll(content, "</p>", "\n")
	content = strings.ReplaceAll(content, "<code>", "`")
	content = strings.ReplaceAll(content, "</code>", "`")

	// Remove other HTML tags
	for strings.Contains(content, "<") && strings.Contains(content, ">") {
		start := strings.Index(content, "<")
		end := strings.Index(content, ">")
		if start < end {
			content = content[:start] + content[end+1:]
		} else {
			break
		}
	}

	return strings.TrimSpace(html.UnescapeString(content))
}
