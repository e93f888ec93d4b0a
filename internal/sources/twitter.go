package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/narrativescanner/scanner/internal/entities"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultTwitterAPIURL = "https://api.twitter.com/2"

	// recent search accepts between 10 and 100 results per page
	twitterMinPage = 10
	twitterMaxPage = 100

	twitterTweetFields = "created_at,author_id,public_metrics,referenced_tweets,conversation_id,lang,entities"

	// recent search rejects longer queries
	twitterMaxQueryLength = 512
)

// TwitterOptions configures a TwitterSource
type TwitterOptions struct {
	BearerToken string
	Queries     []string
	APIBaseURL  string
}

// TwitterSource implements Twitter/X API source. Partitions are recent
// search queries and replies are the rest of a tweet's conversation.
type TwitterSource struct {
	opts   TwitterOptions
	client *resty.Client
}

type twitterSearchResponse struct {
	Data     []TwitterTweet `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// TwitterTweet is a tweet from the v2 recent search endpoint
type TwitterTweet struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	CreatedAt      string `json:"created_at"`
	ConversationID string `json:"conversation_id"`
	Lang           string `json:"lang"`
	PublicMetrics  struct {
		RetweetCount int `json:"retweet_count"`
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Entities struct {
		Hashtags []struct {
			Tag string `json:"tag"`
		} `json:"hashtags"`
	} `json:"entities"`

	username string
	query    string
}

// NewTwitterSource creates a new Twitter source
func NewTwitterSource(opts TwitterOptions) *TwitterSource {
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = defaultTwitterAPIURL
	}
	opts.APIBaseURL = strings.TrimRight(opts.APIBaseURL, "/")

	return &TwitterSource{
		opts: opts,
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "NarrativeScanner/1.0"),
	}
}

func (t *TwitterSource) GetName() models.Source {
	return models.SourceTwitter
}

func (t *TwitterSource) IsEnabled() bool {
	return t.opts.BearerToken != ""
}

func (t *TwitterSource) DefaultPartitions() []string {
	return append([]string(nil), t.opts.Queries...)
}

// ValidatePartition accepts any non-blank search query the API will take
func (t *TwitterSource) ValidatePartition(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty search query", ErrInvalidPartition)
	}
	if len(query) > twitterMaxQueryLength {
		return fmt.Errorf("%w: search query longer than %d characters", ErrInvalidPartition, twitterMaxQueryLength)
	}
	return nil
}

// FetchPosts pages through recent search results for query, dropping
// retweets, until limit tweets are collected or results run out.
func (t *TwitterSource) FetchPosts(ctx context.Context, query string, limit int) ([]Item, error) {
	if !t.IsEnabled() {
		return nil, ErrNotConfigured
	}
	if err := t.ValidatePartition(query); err != nil {
		return nil, err
	}

	var items []Item
	nextToken := ""
	for len(items) < limit {
		resp, err := t.search(ctx, query+" -is:retweet", limit-len(items), nextToken)
		if err != nil {
			return items, err
		}

		for _, tweet := range resp.tweets(query) {
			if tweet.isRetweet() {
				continue
			}
			items = append(items, tweet)
		}

		if resp.Meta.NextToken == "" {
			break
		}
		nextToken = resp.Meta.NextToken
	}

	if len(items) > limit {
		items = items[:limit]
	}
	logrus.Debugf("Twitter search %q returned %d tweets", query, len(items))
	return items, nil
}

// FetchReplies returns up to limit replies from the post's conversation
func (t *TwitterSource) FetchReplies(ctx context.Context, post Item, limit int) ([]Item, error) {
	tweet, ok := post.(TwitterTweet)
	if !ok {
		return nil, fmt.Errorf("twitter cannot fetch replies for %T", post)
	}
	if limit <= 0 || tweet.PublicMetrics.ReplyCount == 0 {
		return nil, nil
	}

	conversation := tweet.ConversationID
	if conversation == "" {
		conversation = tweet.ID
	}

	resp, err := t.search(ctx, fmt.Sprintf("conversation_id:%s is:reply", conversation), limit, "")
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, reply := range resp.tweets(tweet.query) {
		if reply.ID == tweet.ID {
			continue
		}
		items = append(items, reply)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (t *TwitterSource) CheckConnection(ctx context.Context) error {
	if !t.IsEnabled() {
		return ErrNotConfigured
	}
	query := "solana"
	if len(t.opts.Queries) > 0 {
		query = t.opts.Queries[0]
	}
	_, err := t.search(ctx, query, twitterMinPage, "")
	return err
}

func (t *TwitterSource) search(ctx context.Context, query string, want int, nextToken string) (*twitterSearchResponse, error) {
	pageSize := min(max(want, twitterMinPage), twitterMaxPage)

	req := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.opts.BearerToken).
		SetQueryParams(map[string]string{
			"query":        query,
			"max_results":  strconv.Itoa(pageSize),
			"tweet.fields": twitterTweetFields,
			"expansions":   "author_id",
			"user.fields":  "username",
		})
	if nextToken != "" {
		req.SetQueryParam("next_token", nextToken)
	}

	resp, err := req.Get(t.opts.APIBaseURL + "/tweets/search/recent")
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("twitter API rate limited, resets at %s", resp.Header().Get("x-rate-limit-reset"))
	default:
		return nil, fmt.Errorf("twitter API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var searchResp twitterSearchResponse
	if err := json.Unmarshal(resp.Body(), &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse Twitter response: %w", err)
	}
	return &searchResp, nil
}

// tweets attaches resolved usernames and the originating query to each tweet
func (r *twitterSearchResponse) tweets(query string) []TwitterTweet {
	usernames := make(map[string]string, len(r.Includes.Users))
	for _, user := range r.Includes.Users {
		usernames[user.ID] = user.Username
	}

	tweets := make([]TwitterTweet, 0, len(r.Data))
	for _, tweet := range r.Data {
		tweet.username = usernames[tweet.AuthorID]
		tweet.query = query
		tweets = append(tweets, tweet)
	}
	return tweets
}

func (tw TwitterTweet) isRetweet() bool {
	return tw.referenced("retweeted") != ""
}

func (tw TwitterTweet) referenced(kind string) string {
	for _, ref := range tw.ReferencedTweets {
		if ref.Type == kind {
			return ref.ID
		}
	}
	return ""
}

// SourceID separates replies from top-level tweets. The kind comes from the
// tweet itself, so a reply found by search keys the same as one fetched from
// its conversation.
func (tw TwitterTweet) SourceID() string {
	if tw.referenced("replied_to") != "" {
		return "reply_" + tw.ID
	}
	return "tweet_" + tw.ID
}

func (tw TwitterTweet) Normalize() (models.Mention, error) {
	if tw.ID == "" {
		return models.Mention{}, fmt.Errorf("tweet has no id")
	}
	createdAt, err := time.Parse(time.RFC3339, tw.CreatedAt)
	if err != nil {
		return models.Mention{}, fmt.Errorf("tweet %s has no valid creation time: %w", tw.ID, err)
	}

	var author *string
	switch {
	case tw.username != "":
		username := tw.username
		author = &username
	case tw.AuthorID != "":
		authorID := tw.AuthorID
		author = &authorID
	}

	lang := tw.Lang
	if lang == "" || lang == "und" {
		lang = "en"
	}

	text := tw.Text
	extracted := twitterExtractor.Extract(text)
	for _, hashtag := range tw.Entities.Hashtags {
		if !slices.Contains(extracted.Hashtags, hashtag.Tag) {
			extracted.Hashtags = append(extracted.Hashtags, hashtag.Tag)
		}
	}

	return models.Mention{
		Source:    models.SourceTwitter,
		SourceID:  tw.SourceID(),
		Author:    author,
		Text:      &text,
		URL:       "https://twitter.com/i/status/" + tw.ID,
		CreatedAt: createdAt.UTC(),
		Metrics: models.TwitterMetrics{
			Likes:          tw.PublicMetrics.LikeCount,
			Retweets:       tw.PublicMetrics.RetweetCount,
			Replies:        tw.PublicMetrics.ReplyCount,
			Quotes:         tw.PublicMetrics.QuoteCount,
			Query:          tw.query,
			ConversationID: tw.ConversationID,
			InReplyTo:      tw.referenced("replied_to"),
		},
		Lang:     lang,
		Entities: extracted,
	}, nil
}

var twitterExtractor = entities.New("@")
