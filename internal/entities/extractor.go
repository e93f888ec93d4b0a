// Package entities extracts ticker symbols, URLs and user references from
// free-form post text.
package entities

import (
	"strings"

	"github.com/narrativescanner/scanner/internal/models"
)

const maxTickerLength = 10

// RedditUserPrefix is the user reference syntax used in Reddit text
const RedditUserPrefix = "u/"

// Extractor classifies whitespace separated tokens by prefix. The zero value
// recognizes tickers and URLs but no user references.
type Extractor struct {
	userPrefixes []string
}

var defaultExtractor = New(RedditUserPrefix)

// New creates an extractor recognizing the given user reference prefixes
func New(userPrefixes ...string) *Extractor {
	return &Extractor{userPrefixes: userPrefixes}
}

// Extract runs the default (Reddit flavoured) extractor over text
func Extract(text string) models.Entities {
	return defaultExtractor.Extract(text)
}

// Extract never fails: empty text yields empty collections. Each collection
// keeps the first occurrence of a value only.
func (e *Extractor) Extract(text string) models.Entities {
	result := models.NewEntities()
	if text == "" {
		return result
	}

	seen := make(map[string]bool)
	add := func(kind string, list *[]string, value string) {
		key := kind + "\x00" + value
		if seen[key] {
			return
		}
		seen[key] = true
		*list = append(*list, value)
	}

	for _, word := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(word, "$"):
			if ticker, ok := parseTicker(word); ok {
				add("ticker", &result.Tickers, ticker)
			}
		case strings.HasPrefix(word, "http://") || strings.HasPrefix(word, "https://"):
			add("url", &result.URLs, word)
		default:
			if user, ok := e.parseUser(word); ok {
				add("mention", &result.Mentions, user)
			}
		}
	}

	return result
}

func parseTicker(word string) (string, bool) {
	ticker := strings.TrimRight(word[1:], ".,!?")
	if ticker == "" || len(ticker) > maxTickerLength {
		return "", false
	}
	for i := 0; i < len(ticker); i++ {
		c := ticker[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return "", false
		}
	}
	return strings.ToUpper(ticker), true
}

func (e *Extractor) parseUser(word string) (string, bool) {
	for _, prefix := range e.userPrefixes {
		if strings.HasPrefix(word, prefix) && len(word) > len(prefix) {
			return word[len(prefix):], true
		}
	}
	return "", false
}
