package sources

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/narrativescanner/scanner/internal/entities"
	"github.com/narrativescanner/scanner/internal/models"
)

const redditBaseURL = "https://reddit.com"

// RedditSubmission is a top-level Reddit post as returned by listings
type RedditSubmission struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Selftext    string   `json:"selftext"`
	Author      string   `json:"author"`
	Subreddit   string   `json:"subreddit"`
	Permalink   string   `json:"permalink"`
	CreatedUTC  float64  `json:"created_utc"`
	Score       int      `json:"score"`
	UpvoteRatio *float64 `json:"upvote_ratio"`
	NumComments int      `json:"num_comments"`
	Gilded      int      `json:"gilded"`
}

// RedditComment is a reply inside a submission's comment tree
type RedditComment struct {
	ID          string          `json:"id"`
	Body        string          `json:"body"`
	Author      string          `json:"author"`
	Subreddit   string          `json:"subreddit"`
	Permalink   string          `json:"permalink"`
	CreatedUTC  float64         `json:"created_utc"`
	Score       int             `json:"score"`
	Gilded      int             `json:"gilded"`
	IsSubmitter bool            `json:"is_submitter"`
	Replies     json.RawMessage `json:"replies"`
}

func (s RedditSubmission) SourceID() string { return "submission_" + s.ID }

func (s RedditSubmission) Normalize() (models.Mention, error) { return NormalizeSubmission(s) }

func (c RedditComment) SourceID() string { return "comment_" + c.ID }

func (c RedditComment) Normalize() (models.Mention, error) { return NormalizeComment(c) }

// NormalizeSubmission converts a submission into a canonical mention. The
// text is the title followed by the self text when there is one.
func NormalizeSubmission(s RedditSubmission) (models.Mention, error) {
	if s.ID == "" {
		return models.Mention{}, fmt.Errorf("reddit submission has no id")
	}
	if s.CreatedUTC <= 0 {
		return models.Mention{}, fmt.Errorf("reddit submission %s has no creation time", s.ID)
	}

	text := s.Title
	if s.Selftext != "" {
		text += " " + s.Selftext
	}

	return models.Mention{
		Source:    models.SourceReddit,
		SourceID:  s.SourceID(),
		Author:    redditAuthor(s.Author),
		Text:      &text,
		URL:       redditBaseURL + s.Permalink,
		CreatedAt: redditTime(s.CreatedUTC),
		Metrics: models.RedditPostMetrics{
			Score:       s.Score,
			UpvoteRatio: s.UpvoteRatio,
			NumComments: s.NumComments,
			Gilded:      s.Gilded,
			Subreddit:   s.Subreddit,
		},
		Lang:     "en",
		Entities: entities.Extract(text),
	}, nil
}

// NormalizeComment converts a comment into a canonical mention
func NormalizeComment(c RedditComment) (models.Mention, error) {
	if c.ID == "" {
		return models.Mention{}, fmt.Errorf("reddit comment has no id")
	}
	if c.CreatedUTC <= 0 {
		return models.Mention{}, fmt.Errorf("reddit comment %s has no creation time", c.ID)
	}

	body := c.Body

	return models.Mention{
		Source:    models.SourceReddit,
		SourceID:  c.SourceID(),
		Author:    redditAuthor(c.Author),
		Text:      &body,
		URL:       redditBaseURL + c.Permalink,
		CreatedAt: redditTime(c.CreatedUTC),
		Metrics: models.RedditCommentMetrics{
			Score:       c.Score,
			Gilded:      c.Gilded,
			IsSubmitter: c.IsSubmitter,
			Subreddit:   c.Subreddit,
		},
		Lang:     "en",
		Entities: entities.Extract(body),
	}, nil
}

func redditAuthor(author string) *string {
	if author == "" || author == "[deleted]" {
		return nil
	}
	return &author
}

func redditTime(createdUTC float64) time.Time {
	return time.UnixMilli(int64(createdUTC * 1000)).UTC()
}
