package briefing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/predixa/entitlements/internal/cache"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleArticles() []Article {
	return []Article{
		{ID: "a1", PublishedUTC: "2025-01-01T10:00:00Z", Title: "Fed holds rates", PublisherName: "Wire", Keywords: []string{"rates", "fed"}, Sentiment: "positive"},
		{ID: "a2", PublishedUTC: "2025-01-01T09:00:00Z", Title: "Jobs beat", PublisherName: "Wire", Keywords: []string{"jobs", "rates"}, Sentiment: "positive"},
		{ID: "a3", PublishedUTC: "2025-01-01T08:00:00Z", Title: "Oil slips", Keywords: []string{"oil"}},
		{ID: "a4", PublishedUTC: "2025-01-01T07:00:00Z", Title: "Tech rally"},
		{ID: "a5", PublishedUTC: "2025-01-01T06:00:00Z", Title: "Bonds steady"},
		{ID: "a6", PublishedUTC: "2025-01-01T05:00:00Z", Title: "Ignored by the hash"},
	}
}

func TestContentHashUsesFirstFiveArticles(t *testing.T) {
	articles := sampleArticles()
	assert.Equal(t, "69cf15683f16d180d8e1c6f933c43a90", ContentHash(articles))
	assert.Equal(t, ContentHash(articles[:5]), ContentHash(articles))

	changed := sampleArticles()
	changed[5].PublishedUTC = "2025-01-02T00:00:00Z"
	assert.Equal(t, ContentHash(articles), ContentHash(changed))

	changed[0].PublishedUTC = "2025-01-02T00:00:00Z"
	assert.NotEqual(t, ContentHash(articles), ContentHash(changed))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePro, m)

	m, err = ParseMode("WSB")
	require.NoError(t, err)
	assert.Equal(t, ModeWSB, m)

	_, err = ParseMode("degen")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

type staticSource struct {
	articles []Article
	err      error
}

func (s staticSource) Fetch(context.Context) ([]Article, error) {
	return s.articles, s.err
}

type countingGenerator struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (g *countingGenerator) Generate(ctx context.Context, articles []Article, mode Mode) (Briefing, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return Briefing{}, g.err
	}
	return ExtractiveGenerator{}.Generate(ctx, articles, mode)
}

func newTestService(source NewsSource, gen Generator) *Service {
	c := cache.NewMemoryBriefingCache(clock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)), time.Hour)
	return New(source, gen, c, zap.NewNop(), nil)
}

func TestServiceCachesPerModeAndHash(t *testing.T) {
	gen := &countingGenerator{}
	svc := newTestService(staticSource{articles: sampleArticles()}, gen)
	ctx := context.Background()

	first, err := svc.Get(ctx, ModePro, false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 6, first.ArticlesCount)

	second, err := svc.Get(ctx, ModePro, false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Briefing, second.Briefing)

	_, err = svc.Get(ctx, ModeSimple, false)
	require.NoError(t, err)

	forced, err := svc.Get(ctx, ModePro, true)
	require.NoError(t, err)
	assert.False(t, forced.Cached)

	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestServiceDeduplicatesConcurrentGeneration(t *testing.T) {
	gen := &countingGenerator{delay: 50 * time.Millisecond}
	svc := newTestService(staticSource{articles: sampleArticles()}, gen)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Get(context.Background(), ModeWSB, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestServiceNoArticles(t *testing.T) {
	svc := newTestService(staticSource{}, &countingGenerator{})
	_, err := svc.Get(context.Background(), ModePro, false)
	assert.ErrorIs(t, err, ErrNoArticles)
}

func TestServiceFallbackIsNotCached(t *testing.T) {
	gen := &countingGenerator{err: errors.New("upstream down")}
	svc := newTestService(staticSource{articles: sampleArticles()}, gen)
	ctx := context.Background()

	res, err := svc.Get(ctx, ModePro, false)
	require.NoError(t, err)
	assert.Equal(t, FallbackBriefing(), res.Briefing)

	res, err = svc.Get(ctx, ModePro, false)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestExtractiveGenerator(t *testing.T) {
	b, err := ExtractiveGenerator{}.Generate(context.Background(), sampleArticles(), ModePro)
	require.NoError(t, err)

	assert.Len(t, b.DailyBrief, 6)
	assert.Equal(t, "Wire: Fed holds rates", b.DailyBrief[0])
	assert.Equal(t, "rates", b.Themes[0])
	assert.Equal(t, SentimentBullish, b.Sentiment)
	assert.Len(t, b.TopArticles, 5)
}

func TestHTTPNewsSourceParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"x1","publisher":{"name":"Wire"},"title":"SPY up","published_utc":"2025-01-01T00:00:00Z","article_url":"https://n/1","insights":[{"sentiment":"positive"}]},{"publisher":"Desk","title":"SPY flat","published_at":"2025-01-01T01:00:00Z","url":"https://n/2"}]}`))
	}))
	defer srv.Close()

	articles, err := NewHTTPNewsSource(srv.URL, "k", srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "x1", articles[0].ID)
	assert.Equal(t, "Wire", articles[0].PublisherName)
	assert.Equal(t, "positive", articles[0].Sentiment)
	assert.Equal(t, "news-1-2025-01-01T01:00:00Z", articles[1].ID)
	assert.Equal(t, "Desk", articles[1].PublisherName)
	assert.Equal(t, "https://n/2", articles[1].URL)
}

func TestHTTPNewsSourceErrors(t *testing.T) {
	_, err := NewHTTPNewsSource("", "", nil).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err = NewHTTPNewsSource(srv.URL, "", srv.Client()).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNewsUnavailable)
}

func TestHTTPGeneratorNormalizesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"daily_brief":["one"],"sentiment":"euphoric"}`))
	}))
	defer srv.Close()

	b, err := NewHTTPGenerator(srv.URL, srv.Client()).Generate(context.Background(), sampleArticles(), ModePro)
	require.NoError(t, err)
	assert.Len(t, b.DailyBrief, 3)
	assert.Equal(t, []string{"market", "market"}, b.Themes)
	assert.Equal(t, SentimentNeutral, b.Sentiment)
	assert.NotNil(t, b.TopArticles)
}
