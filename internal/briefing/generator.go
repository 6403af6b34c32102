package briefing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/predixa/entitlements/internal/observability/tracing"
)

const (
	generateTimeout     = 20 * time.Second
	maxPromptArticles   = 15
	maxTopArticles      = 5
	minDailyBriefItems  = 3
	maxDailyBriefItems  = 6
	minThemes           = 2
	maxThemes           = 6
	maxGeneratorReplyKB = 256
)

// HTTPGenerator delegates briefing generation to an external service that
// accepts {mode, articles} and answers with a Briefing document.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPGenerator(endpoint string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = &http.Client{Timeout: generateTimeout}
	}
	return &HTTPGenerator{endpoint: endpoint, client: tracing.WrapHTTPClient(client)}
}

type generateRequest struct {
	Mode     Mode      `json:"mode"`
	Articles []Article `json:"articles"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, articles []Article, mode Mode) (Briefing, error) {
	if len(articles) > maxPromptArticles {
		articles = articles[:maxPromptArticles]
	}
	body, err := json.Marshal(generateRequest{Mode: mode, Articles: articles})
	if err != nil {
		return Briefing{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Briefing{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Briefing{}, fmt.Errorf("briefing generator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGeneratorReplyKB<<10))
	if err != nil {
		return Briefing{}, fmt.Errorf("briefing generator: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Briefing{}, fmt.Errorf("briefing generator returned %d", resp.StatusCode)
	}

	var out Briefing
	if err := json.Unmarshal(raw, &out); err != nil {
		return Briefing{}, fmt.Errorf("briefing generator: invalid JSON: %w", err)
	}
	return normalizeBriefing(out), nil
}

// normalizeBriefing pads short replies and coerces an unknown sentiment to
// neutral so the client always receives the full shape.
func normalizeBriefing(b Briefing) Briefing {
	if b.DailyBrief == nil {
		b.DailyBrief = []string{}
	}
	if b.Themes == nil {
		b.Themes = []string{}
	}
	if b.TopArticles == nil {
		b.TopArticles = []TopArticle{}
	}
	for len(b.DailyBrief) < minDailyBriefItems {
		b.DailyBrief = append(b.DailyBrief, "Market news update")
	}
	for len(b.Themes) < minThemes {
		b.Themes = append(b.Themes, "market")
	}
	if !b.Sentiment.Valid() {
		b.Sentiment = SentimentNeutral
	}
	return b
}

// FallbackBriefing is served when generation fails. It is never cached.
func FallbackBriefing() Briefing {
	return Briefing{
		DailyBrief: []string{
			"Predixa Briefing is temporarily unavailable.",
			"Please check back shortly for market insights.",
		},
		Themes:      []string{"market news"},
		Sentiment:   SentimentNeutral,
		TopArticles: []TopArticle{},
	}
}

// ExtractiveGenerator builds a briefing from the articles themselves: the
// leading headlines, the most frequent keywords and a vote over per-article
// sentiment.
type ExtractiveGenerator struct{}

func NewExtractiveGenerator() ExtractiveGenerator {
	return ExtractiveGenerator{}
}

func (ExtractiveGenerator) Generate(ctx context.Context, articles []Article, mode Mode) (Briefing, error) {
	if err := ctx.Err(); err != nil {
		return Briefing{}, err
	}

	lines := make([]string, 0, maxDailyBriefItems)
	for _, a := range articles {
		if len(lines) == maxDailyBriefItems {
			break
		}
		title := strings.TrimSpace(a.Title)
		if title == "" {
			continue
		}
		lines = append(lines, styleLine(mode, title, a.PublisherName))
	}

	top := make([]TopArticle, 0, maxTopArticles)
	for _, a := range articles {
		if len(top) == maxTopArticles {
			break
		}
		top = append(top, TopArticle{
			Title:        a.Title,
			Publisher:    a.PublisherName,
			PublishedUTC: a.PublishedUTC,
			URL:          a.URL,
		})
	}

	return normalizeBriefing(Briefing{
		DailyBrief:  lines,
		Themes:      topKeywords(articles, maxThemes),
		Sentiment:   voteSentiment(articles),
		TopArticles: top,
	}), nil
}

func styleLine(mode Mode, title, publisher string) string {
	switch mode {
	case ModeSimple:
		return "In the news today: " + title
	case ModeWSB:
		return title + " 🚀"
	default:
		if publisher == "" || publisher == "Unknown" {
			return title
		}
		return publisher + ": " + title
	}
}

func topKeywords(articles []Article, limit int) []string {
	counts := make(map[string]int)
	for _, a := range articles {
		seen := make(map[string]struct{}, len(a.Keywords))
		for _, kw := range a.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			counts[kw]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for kw := range counts {
		keywords = append(keywords, kw)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

func voteSentiment(articles []Article) Sentiment {
	var bullish, bearish int
	for _, a := range articles {
		switch strings.ToLower(strings.TrimSpace(a.Sentiment)) {
		case "positive", "bullish":
			bullish++
		case "negative", "bearish":
			bearish++
		}
	}
	switch {
	case bullish == 0 && bearish == 0:
		return SentimentNeutral
	case bullish > 2*bearish:
		return SentimentBullish
	case bearish > 2*bullish:
		return SentimentBearish
	default:
		return SentimentMixed
	}
}
