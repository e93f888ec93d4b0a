package models

import "encoding/json"

// Metric kinds tag the engagement snapshot stored with every mention.
const (
	MetricsRedditSubmission  = "reddit_submission"
	MetricsRedditComment     = "reddit_comment"
	MetricsHackerNewsStory   = "hackernews_story"
	MetricsHackerNewsComment = "hackernews_comment"
	MetricsTwitterTweet      = "twitter_tweet"
	MetricsTwitterReply      = "twitter_reply"
)

// Metrics is a per-source engagement snapshot captured at normalization time.
// Every variant serializes to a flat object carrying its kind.
type Metrics interface {
	MetricsKind() string
}

// RedditPostMetrics is the snapshot for a Reddit submission
type RedditPostMetrics struct {
	Score       int      `json:"score"`
	UpvoteRatio *float64 `json:"upvote_ratio"`
	NumComments int      `json:"num_comments"`
	Gilded      int      `json:"gilded"`
	Subreddit   string   `json:"subreddit"`
}

func (RedditPostMetrics) MetricsKind() string { return MetricsRedditSubmission }

func (m RedditPostMetrics) MarshalJSON() ([]byte, error) {
	type plain RedditPostMetrics
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{m.MetricsKind(), plain(m)})
}

// RedditCommentMetrics is the snapshot for a Reddit comment
type RedditCommentMetrics struct {
	Score       int    `json:"score"`
	Gilded      int    `json:"gilded"`
	IsSubmitter bool   `json:"is_submitter"`
	Subreddit   string `json:"subreddit"`
}

func (RedditCommentMetrics) MetricsKind() string { return MetricsRedditComment }

func (m RedditCommentMetrics) MarshalJSON() ([]byte, error) {
	type plain RedditCommentMetrics
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{m.MetricsKind(), plain(m)})
}

// HackerNewsMetrics is the snapshot for a Hacker News story or comment.
// Parent is only set for comments.
type HackerNewsMetrics struct {
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Feed        string `json:"feed"`
	Parent      int64  `json:"parent,omitempty"`
}

func (m HackerNewsMetrics) MetricsKind() string {
	if m.Parent != 0 {
		return MetricsHackerNewsComment
	}
	return MetricsHackerNewsStory
}

func (m HackerNewsMetrics) MarshalJSON() ([]byte, error) {
	type plain HackerNewsMetrics
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{m.MetricsKind(), plain(m)})
}

// TwitterMetrics is the public engagement of a tweet. InReplyTo is only set
// for replies.
type TwitterMetrics struct {
	Likes          int    `json:"like_count"`
	Retweets       int    `json:"retweet_count"`
	Replies        int    `json:"reply_count"`
	Quotes         int    `json:"quote_count"`
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
}

func (m TwitterMetrics) MetricsKind() string {
	if m.InReplyTo != "" {
		return MetricsTwitterReply
	}
	return MetricsTwitterTweet
}

func (m TwitterMetrics) MarshalJSON() ([]byte, error) {
	type plain TwitterMetrics
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{m.MetricsKind(), plain(m)})
}
