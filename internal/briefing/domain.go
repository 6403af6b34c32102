// Package briefing serves the market news briefing behind the subscription
// gate, cached per mode and article set.
package briefing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
)

type Mode string

const (
	ModePro    Mode = "pro"
	ModeSimple Mode = "simple"
	ModeWSB    Mode = "wsb"
)

var Modes = []Mode{ModePro, ModeSimple, ModeWSB}

// ParseMode defaults an empty mode to pro.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModePro:
		return ModePro, nil
	case ModeSimple:
		return ModeSimple, nil
	case ModeWSB:
		return ModeWSB, nil
	default:
		return "", ErrInvalidMode
	}
}

type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentMixed   Sentiment = "mixed"
	SentimentNeutral Sentiment = "neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentBullish, SentimentBearish, SentimentMixed, SentimentNeutral:
		return true
	}
	return false
}

// Article is a normalized news item.
type Article struct {
	ID            string   `json:"id"`
	PublisherName string   `json:"publisher_name"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	PublishedUTC  string   `json:"published_utc"`
	URL           string   `json:"url"`
	Tickers       []string `json:"tickers,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Sentiment     string   `json:"sentiment,omitempty"`
}

type TopArticle struct {
	Title        string `json:"title"`
	Publisher    string `json:"publisher"`
	PublishedUTC string `json:"published_utc"`
	URL          string `json:"url"`
}

type Briefing struct {
	DailyBrief  []string     `json:"daily_brief"`
	Themes      []string     `json:"themes"`
	Sentiment   Sentiment    `json:"sentiment"`
	TopArticles []TopArticle `json:"top_articles"`
}

// Result is the endpoint payload.
type Result struct {
	Briefing      Briefing `json:"briefing"`
	Mode          Mode     `json:"mode"`
	ArticlesCount int      `json:"articlesCount"`
	Cached        bool     `json:"cached"`
}

// NewsSource fetches the current article list, newest first.
type NewsSource interface {
	Fetch(ctx context.Context) ([]Article, error)
}

// Generator turns articles into a briefing for one mode.
type Generator interface {
	Generate(ctx context.Context, articles []Article, mode Mode) (Briefing, error)
}

var (
	ErrInvalidMode     = errors.New("invalid mode. Must be pro, simple, or wsb")
	ErrNoArticles      = errors.New("no articles available")
	ErrNewsUnavailable = errors.New("news feed unavailable")
	ErrNotConfigured   = errors.New("news feed not configured")
)

const hashArticleCount = 5

// ContentHash identifies an article set by the first five articles' ids and
// publish times, so a briefing is regenerated only when the news changes.
func ContentHash(articles []Article) string {
	n := len(articles)
	if n > hashArticleCount {
		n = hashArticleCount
	}
	parts := make([]string, 0, n)
	for _, a := range articles[:n] {
		parts = append(parts, a.ID+":"+a.PublishedUTC)
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
