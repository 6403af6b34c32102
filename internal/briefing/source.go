package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/predixa/entitlements/internal/observability/tracing"
)

const (
	newsFetchTimeout = 15 * time.Second
	maxFeedBytes     = 4 << 20
)

// HTTPNewsSource reads a JSON news feed. The feed may be a bare array or an
// object carrying the list under results, data, items or news.
type HTTPNewsSource struct {
	feedURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPNewsSource(feedURL, apiKey string, client *http.Client) *HTTPNewsSource {
	if client == nil {
		client = &http.Client{Timeout: newsFetchTimeout}
	}
	return &HTTPNewsSource{
		feedURL: feedURL,
		apiKey:  apiKey,
		client:  tracing.WrapHTTPClient(client),
	}
}

func (s *HTTPNewsSource) Fetch(ctx context.Context) ([]Article, error) {
	if s.feedURL == "" {
		return nil, ErrNotConfigured
	}
	target, err := url.Parse(s.feedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if s.apiKey != "" {
		q := target.Query()
		q.Set("apiKey", s.apiKey)
		target.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNewsUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNewsUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned %d", ErrNewsUnavailable, resp.StatusCode)
	}
	return parseFeed(body)
}

type feedPublisher struct {
	Name string `json:"name"`
}

type feedInsight struct {
	Sentiment string `json:"sentiment"`
}

type feedItem struct {
	ID           string          `json:"id"`
	Publisher    json.RawMessage `json:"publisher"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	PublishedUTC string          `json:"published_utc"`
	PublishedAt  string          `json:"published_at"`
	ArticleURL   string          `json:"article_url"`
	URL          string          `json:"url"`
	Link         string          `json:"link"`
	Tickers      []string        `json:"tickers"`
	Symbols      []string        `json:"symbols"`
	Keywords     []string        `json:"keywords"`
	Insights     []feedInsight   `json:"insights"`
	Sentiment    string          `json:"sentiment"`
}

type feedEnvelope struct {
	Results []feedItem `json:"results"`
	Data    []feedItem `json:"data"`
	Items   []feedItem `json:"items"`
	News    []feedItem `json:"news"`
}

func parseFeed(body []byte) ([]Article, error) {
	var items []feedItem
	if err := json.Unmarshal(body, &items); err != nil {
		var env feedEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: unexpected feed format", ErrNewsUnavailable)
		}
		switch {
		case env.Results != nil:
			items = env.Results
		case env.Data != nil:
			items = env.Data
		case env.Items != nil:
			items = env.Items
		case env.News != nil:
			items = env.News
		default:
			return nil, fmt.Errorf("%w: unexpected feed format", ErrNewsUnavailable)
		}
	}

	articles := make([]Article, 0, len(items))
	for i, item := range items {
		articles = append(articles, normalizeItem(i, item))
	}
	return articles, nil
}

func normalizeItem(index int, item feedItem) Article {
	published := firstNonEmpty(item.PublishedUTC, item.PublishedAt)
	id := item.ID
	if id == "" {
		id = "news-" + strconv.Itoa(index) + "-" + published
	}
	sentiment := item.Sentiment
	if len(item.Insights) > 0 && item.Insights[0].Sentiment != "" {
		sentiment = item.Insights[0].Sentiment
	}
	tickers := item.Tickers
	if len(tickers) == 0 {
		tickers = item.Symbols
	}
	return Article{
		ID:            id,
		PublisherName: publisherName(item.Publisher),
		Title:         item.Title,
		Description:   item.Description,
		PublishedUTC:  published,
		URL:           firstNonEmpty(item.ArticleURL, item.URL, item.Link),
		Tickers:       tickers,
		Keywords:      item.Keywords,
		Sentiment:     sentiment,
	}
}

// publisherName accepts either {"name": "..."} or a bare string.
func publisherName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Unknown"
	}
	var pub feedPublisher
	if err := json.Unmarshal(raw, &pub); err == nil && pub.Name != "" {
		return pub.Name
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil && name != "" {
		return name
	}
	return "Unknown"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
