// Package ratelimit implements the fixed-window request limiter used on the
// /api surface.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultRequestsPerWindow = 100
	DefaultWindow            = time.Minute
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAfter is the time until the current window ends.
	ResetAfter time.Duration
	// FailedOpen is set when the store errored and the request was let through.
	FailedOpen bool
}

// ResetSeconds rounds ResetAfter up to whole seconds for response headers.
func (d Decision) ResetSeconds() int {
	if d.ResetAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.ResetAfter.Seconds()))
}

type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	clock  clock.Clock
	log    *zap.Logger
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Redis  *redis.Client `optional:"true"`
}

// New picks the redis store when a client is configured, memory otherwise.
func New(p Params) *Limiter {
	var store Store
	if p.Redis != nil {
		store = NewRedisStore(p.Redis, p.Clock)
	} else {
		store = NewMemoryStore(p.Clock)
	}
	return NewLimiter(store, p.Config.RateLimit.RequestsPerWindow, p.Config.RateLimit.Window, p.Clock, p.Log)
}

func NewLimiter(store Store, limit int, window time.Duration, c clock.Clock, log *zap.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultRequestsPerWindow
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if c == nil {
		c = clock.NewSystemClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		clock:  c,
		log:    log.Named("ratelimit"),
	}
}

func (l *Limiter) Limit() int {
	return l.limit
}

// Allow counts one request against key. Store errors let the request through.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	w, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		l.log.Warn("rate limit store failed, allowing request", zap.String("key", key), zap.Error(err))
		return Decision{
			Allowed:    true,
			Limit:      l.limit,
			Remaining:  l.limit,
			ResetAfter: l.window,
			FailedOpen: true,
		}
	}

	remaining := l.limit - int(w.Count)
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := w.ResetAt.Sub(l.clock.Now())
	if resetAfter < 0 {
		resetAfter = 0
	}
	return Decision{
		Allowed:    w.Count <= int64(l.limit),
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}
