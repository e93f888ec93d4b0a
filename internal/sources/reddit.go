package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultRedditAuthURL = "https://www.reddit.com/api/v1/access_token"
	defaultRedditAPIURL  = "https://oauth.reddit.com"
	redditPageSize       = 100
)

// RedditOptions configures a RedditSource
type RedditOptions struct {
	ClientID          string
	ClientSecret      string
	UserAgent         string
	Subreddits        []string
	RequestsPerMinute int

	// Overridable endpoints, defaulting to the public Reddit API
	AuthURL    string
	APIBaseURL string
}

// RedditSource implements Reddit API source
type RedditSource struct {
	opts    RedditOptions
	client  *resty.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type redditAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string        `json:"after"`
		Children []redditThing `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewRedditSource creates a new Reddit source
func NewRedditSource(opts RedditOptions) *RedditSource {
	if opts.AuthURL == "" {
		opts.AuthURL = defaultRedditAuthURL
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = defaultRedditAPIURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "NarrativeScanner/1.0"
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 60
	}

	return &RedditSource{
		opts:    opts,
		client:  resty.New().SetTimeout(30 * time.Second),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 5),
	}
}

func (r *RedditSource) GetName() models.Source {
	return models.SourceReddit
}

func (r *RedditSource) IsEnabled() bool {
	return r.opts.ClientID != "" && r.opts.ClientSecret != ""
}

func (r *RedditSource) DefaultPartitions() []string {
	return append([]string(nil), r.opts.Subreddits...)
}

var subredditName = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

// ValidatePartition accepts only well-formed subreddit names
func (r *RedditSource) ValidatePartition(subreddit string) error {
	if !subredditName.MatchString(subreddit) {
		return fmt.Errorf("%w: %q is not a subreddit name", ErrInvalidPartition, subreddit)
	}
	return nil
}

// FetchPosts returns up to limit hot submissions of a subreddit, paging with
// the listing cursor.
func (r *RedditSource) FetchPosts(ctx context.Context, subreddit string, limit int) ([]Item, error) {
	if !r.IsEnabled() {
		return nil, ErrNotConfigured
	}
	if err := r.ValidatePartition(subreddit); err != nil {
		return nil, err
	}

	var items []Item
	after := ""

	for len(items) < limit {
		pageSize := limit - len(items)
		if pageSize > redditPageSize {
			pageSize = redditPageSize
		}

		query := map[string]string{
			"limit":    fmt.Sprintf("%d", pageSize),
			"raw_json": "1",
		}
		if after != "" {
			query["after"] = after
		}

		var listing redditListing
		if err := r.get(ctx, fmt.Sprintf("/r/%s/hot", url.PathEscape(subreddit)), query, &listing); err != nil {
			return items, fmt.Errorf("failed to list r/%s: %w", subreddit, err)
		}

		for _, child := range listing.Data.Children {
			if child.Kind != "t3" {
				continue
			}
			var submission RedditSubmission
			if err := json.Unmarshal(child.Data, &submission); err != nil {
				logrus.Debugf("Skipping undecodable submission in r/%s: %v", subreddit, err)
				continue
			}
			items = append(items, submission)
			if len(items) == limit {
				break
			}
		}

		if listing.Data.After == "" || len(listing.Data.Children) == 0 {
			break
		}
		after = listing.Data.After
	}

	return items, nil
}

// FetchReplies returns the first limit comments of a submission in
// breadth-first order. "load more" stubs are dropped rather than expanded and
// deleted or removed comments are filtered out after the cut.
func (r *RedditSource) FetchReplies(ctx context.Context, post Item, limit int) ([]Item, error) {
	submission, ok := post.(RedditSubmission)
	if !ok {
		return nil, fmt.Errorf("reddit cannot fetch replies for %T", post)
	}
	if limit <= 0 {
		return nil, nil
	}

	var listings []redditListing
	path := fmt.Sprintf("/r/%s/comments/%s", url.PathEscape(submission.Subreddit), url.PathEscape(submission.ID))
	if err := r.get(ctx, path, map[string]string{"raw_json": "1"}, &listings); err != nil {
		return nil, fmt.Errorf("failed to fetch comments for %s: %w", submission.ID, err)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	comments := flattenComments(listings[1].Data.Children)
	if len(comments) > limit {
		comments = comments[:limit]
	}

	var items []Item
	for _, comment := range comments {
		if comment.Body == "[deleted]" || comment.Body == "[removed]" {
			continue
		}
		items = append(items, comment)
	}

	return items, nil
}

func flattenComments(children []redditThing) []RedditComment {
	var flat []RedditComment
	queue := append([]redditThing(nil), children...)

	for len(queue) > 0 {
		thing := queue[0]
		queue = queue[1:]

		if thing.Kind != "t1" {
			continue
		}

		var comment RedditComment
		if err := json.Unmarshal(thing.Data, &comment); err != nil {
			logrus.Debugf("Skipping undecodable comment: %v", err)
			continue
		}
		flat = append(flat, comment)

		// replies is "" when empty and a listing otherwise
		if len(comment.Replies) > 0 && comment.Replies[0] == '{' {
			var replies redditListing
			if err := json.Unmarshal(comment.Replies, &replies); err == nil {
				queue = append(queue, replies.Data.Children...)
			}
		}
	}

	return flat
}

// CheckConnection authenticates and reads a small public subreddit
func (r *RedditSource) CheckConnection(ctx context.Context) error {
	if !r.IsEnabled() {
		return ErrNotConfigured
	}
	var about json.RawMessage
	return r.get(ctx, "/r/test/about", nil, &about)
}

func (r *RedditSource) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := r.token(ctx)
	if err != nil {
		return fmt.Errorf("reddit authentication failed: %w", err)
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("User-Agent", r.opts.UserAgent).
		SetQueryParams(query).
		Get(r.opts.APIBaseURL + path)

	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		r.invalidateToken()
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("reddit API returned status %d", resp.StatusCode())
	}

	return json.Unmarshal(resp.Body(), out)
}

// token returns a cached application-only OAuth token, refreshing it a minute
// before it expires.
func (r *RedditSource) token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accessToken != "" && time.Now().Before(r.tokenExpiry) {
		return r.accessToken, nil
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", r.opts.UserAgent).
		SetBasicAuth(r.opts.ClientID, r.opts.ClientSecret).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
		}).
		Post(r.opts.AuthURL)

	if err != nil {
		return "", err
	}

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}

	var authResp redditAuthResponse
	if err := json.Unmarshal(resp.Body(), &authResp); err != nil {
		return "", err
	}
	if authResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	r.accessToken = authResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(authResp.ExpiresIn)*time.Second - time.Minute)
	return r.accessToken, nil
}

func (r *RedditSource) invalidateToken() {
	r.mu.Lock()
	r.accessToken = ""
	r.mu.Unlock()
}
