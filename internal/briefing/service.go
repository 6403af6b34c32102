package briefing

import (
	"context"
	"encoding/json"

	"github.com/predixa/entitlements/internal/cache"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/observability/logger"
	obsmetrics "github.com/predixa/entitlements/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Cache      cache.BriefingCache
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	source    NewsSource
	generator Generator
	cache     cache.BriefingCache
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
	group     singleflight.Group
}

// NewService uses the external generator when BRIEFING_GENERATOR_URL is set
// and the extractive generator otherwise.
func NewService(p Params) *Service {
	source := NewHTTPNewsSource(p.Config.Briefing.NewsFeedURL, p.Config.Briefing.NewsAPIKey, nil)

	var generator Generator = NewExtractiveGenerator()
	if p.Config.Briefing.GeneratorURL != "" {
		generator = NewHTTPGenerator(p.Config.Briefing.GeneratorURL, nil)
	}
	return New(source, generator, p.Cache, p.Log, p.ObsMetrics)
}

func New(source NewsSource, generator Generator, c cache.BriefingCache, log *zap.Logger, metrics *obsmetrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		source:    source,
		generator: generator,
		cache:     c,
		log:       log.Named("briefing"),
		metrics:   metrics,
	}
}

// Get returns the briefing for mode, generating it when the cache has no
// entry for the current article set or force is set.
func (s *Service) Get(ctx context.Context, mode Mode, force bool) (Result, error) {
	log := logger.WithContext(ctx, s.log)

	articles, err := s.source.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(articles) == 0 {
		return Result{}, ErrNoArticles
	}
	hash := ContentHash(articles)

	if !force {
		entry, ok, err := s.cache.Get(ctx, string(mode), hash)
		if err != nil {
			log.Warn("briefing cache read failed", zap.String("mode", string(mode)), zap.Error(err))
		}
		if ok {
			var b Briefing
			if err := json.Unmarshal(entry.Payload, &b); err == nil {
				s.metrics.RecordBriefingCache(ctx, string(mode), true)
				return Result{Briefing: b, Mode: mode, ArticlesCount: len(articles), Cached: true}, nil
			}
			log.Warn("discarding undecodable cached briefing", zap.String("mode", string(mode)))
		}
	}
	s.metrics.RecordBriefingCache(ctx, string(mode), false)

	v, _, _ := s.group.Do(string(mode)+":"+hash, func() (interface{}, error) {
		if !force {
			// A concurrent caller may have filled the entry since our read.
			if b, ok := s.cached(ctx, mode, hash); ok {
				return b, nil
			}
		}
		return s.generate(context.WithoutCancel(ctx), articles, mode, hash), nil
	})
	return Result{Briefing: v.(Briefing), Mode: mode, ArticlesCount: len(articles), Cached: false}, nil
}

func (s *Service) cached(ctx context.Context, mode Mode, hash string) (Briefing, bool) {
	entry, ok, err := s.cache.Get(ctx, string(mode), hash)
	if err != nil || !ok {
		return Briefing{}, false
	}
	var b Briefing
	if err := json.Unmarshal(entry.Payload, &b); err != nil {
		return Briefing{}, false
	}
	return b, true
}

func (s *Service) generate(ctx context.Context, articles []Article, mode Mode, hash string) Briefing {
	log := logger.WithContext(ctx, s.log)

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	b, err := s.generator.Generate(ctx, articles, mode)
	if err != nil {
		log.Error("briefing generation failed", zap.String("mode", string(mode)), zap.Error(err))
		return FallbackBriefing()
	}

	payload, err := json.Marshal(b)
	if err != nil {
		log.Error("briefing encode failed", zap.Error(err))
		return b
	}
	if err := s.cache.Set(ctx, cache.BriefingEntry{Mode: string(mode), ContentHash: hash, Payload: payload}); err != nil {
		log.Warn("briefing cache write failed", zap.String("mode", string(mode)), zap.Error(err))
	}
	return b
}

// CacheStats reports per-mode cache age.
func (s *Service) CacheStats(ctx context.Context) (map[string]cache.ModeStats, error) {
	modes := make([]string, 0, len(Modes))
	for _, m := range Modes {
		modes = append(modes, string(m))
	}
	return s.cache.Stats(ctx, modes)
}
