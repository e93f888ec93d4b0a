package models

import (
	"encoding/json"
	"time"
)

// Source identifies the platform a mention was ingested from
type Source string

const (
	SourceReddit     Source = "reddit"
	SourceHackerNews Source = "hackernews"
	SourceTelegram   Source = "telegram"
	SourceTwitter    Source = "twitter"
)

// DisplayName is the human readable platform name used in job messages
func (s Source) DisplayName() string {
	switch s {
	case SourceReddit:
		return "Reddit"
	case SourceHackerNews:
		return "Hacker News"
	case SourceTelegram:
		return "Telegram"
	case SourceTwitter:
		return "Twitter"
	default:
		return string(s)
	}
}

// Mention is one normalized piece of social content. The (Source, SourceID)
// pair is unique across all ingestion runs.
type Mention struct {
	Source    Source    `json:"source"`
	SourceID  string    `json:"source_id"`
	Author    *string   `json:"author"` // nil for deleted or anonymous authors
	Text      *string   `json:"text"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   Metrics   `json:"metrics"`
	Lang      string    `json:"lang"`
	Entities  Entities  `json:"entities"`
}

// StoredMention is a persisted mention row as read back from the database
type StoredMention struct {
	ID         int64           `json:"id"`
	Source     Source          `json:"source"`
	SourceID   string          `json:"source_id"`
	Author     *string         `json:"author"`
	Text       *string         `json:"text"`
	URL        string          `json:"url"`
	CreatedAt  time.Time       `json:"created_at"`
	Metrics    json.RawMessage `json:"metrics"`
	Lang       string          `json:"lang"`
	Entities   Entities        `json:"entities"`
	IngestedAt time.Time       `json:"ingest_ts"`
}

// Entities holds the structured signals extracted from a mention's text
type Entities struct {
	Tickers  []string `json:"tickers"`
	URLs     []string `json:"urls"`
	Mentions []string `json:"mentions"`
	Hashtags []string `json:"hashtags"` // only filled from Twitter entity annotations
}

// NewEntities returns an Entities value with every collection non-nil so it
// always serializes as arrays.
func NewEntities() Entities {
	return Entities{
		Tickers:  []string{},
		URLs:     []string{},
		Mentions: []string{},
		Hashtags: []string{},
	}
}
