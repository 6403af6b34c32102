package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/predixa/entitlements/internal/clock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultBriefingTTL = 60 * time.Minute

	briefingKeyPrefix = "predixa:briefing:"
)

// BriefingEntry is one cached briefing. Payload is the serialized briefing;
// the cache does not interpret it.
type BriefingEntry struct {
	Mode        string          `json:"mode"`
	ContentHash string          `json:"content_hash"`
	Payload     json.RawMessage `json:"payload"`
	CachedAt    time.Time       `json:"cached_at"`
}

// ModeStats reports the cache state for one mode.
type ModeStats struct {
	HasCache bool          `json:"has_cache"`
	Age      time.Duration `json:"age"`
}

// BriefingCache keeps at most one briefing per mode. A Get with a different
// content hash is a miss and evicts the stale entry.
type BriefingCache interface {
	Get(ctx context.Context, mode, contentHash string) (BriefingEntry, bool, error)
	Set(ctx context.Context, entry BriefingEntry) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context, modes []string) (map[string]ModeStats, error)
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
}

// NewBriefingCache uses redis when a client is configured so every instance
// shares generated briefings.
func NewBriefingCache(p Params) BriefingCache {
	if p.Redis != nil {
		p.Log.Named("cache").Info("briefing cache backed by redis")
		return NewRedisBriefingCache(p.Redis, p.Clock, DefaultBriefingTTL)
	}
	return NewMemoryBriefingCache(p.Clock, DefaultBriefingTTL)
}

type memoryBriefingCache struct {
	clock   clock.Clock
	ttl     time.Duration
	entries Cache[string, BriefingEntry]
}

func NewMemoryBriefingCache(c clock.Clock, ttl time.Duration) BriefingCache {
	if c == nil {
		c = clock.NewSystemClock()
	}
	if ttl <= 0 {
		ttl = DefaultBriefingTTL
	}
	return &memoryBriefingCache{
		clock:   c,
		ttl:     ttl,
		entries: NewTTLCacheWithClock[string, BriefingEntry](c),
	}
}

func (m *memoryBriefingCache) Get(ctx context.Context, mode, contentHash string) (BriefingEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return BriefingEntry{}, false, err
	}
	entry, ok := m.entries.Get(mode)
	if !ok {
		return BriefingEntry{}, false, nil
	}
	if entry.ContentHash != contentHash {
		m.entries.Delete(mode)
		return BriefingEntry{}, false, nil
	}
	return entry, true, nil
}

func (m *memoryBriefingCache) Set(ctx context.Context, entry BriefingEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = m.clock.Now()
	}
	m.entries.Set(entry.Mode, entry, m.ttl)
	return nil
}

func (m *memoryBriefingCache) Clear(context.Context) error {
	m.entries.Clear()
	return nil
}

func (m *memoryBriefingCache) Stats(_ context.Context, modes []string) (map[string]ModeStats, error) {
	now := m.clock.Now()
	out := make(map[string]ModeStats, len(modes))
	for _, mode := range modes {
		entry, ok := m.entries.Get(mode)
		if !ok {
			out[mode] = ModeStats{}
			continue
		}
		out[mode] = ModeStats{HasCache: true, Age: now.Sub(entry.CachedAt)}
	}
	return out, nil
}

type redisBriefingCache struct {
	rdb   *redis.Client
	clock clock.Clock
	ttl   time.Duration
	keyNS string
}

func NewRedisBriefingCache(rdb *redis.Client, c clock.Clock, ttl time.Duration) BriefingCache {
	if c == nil {
		c = clock.NewSystemClock()
	}
	if ttl <= 0 {
		ttl = DefaultBriefingTTL
	}
	return &redisBriefingCache{rdb: rdb, clock: c, ttl: ttl, keyNS: briefingKeyPrefix}
}

func (r *redisBriefingCache) key(mode string) string { return r.keyNS + mode }

func (r *redisBriefingCache) load(ctx context.Context, mode string) (BriefingEntry, bool, error) {
	val, err := r.rdb.Get(ctx, r.key(mode)).Bytes()
	if err == redis.Nil {
		return BriefingEntry{}, false, nil
	}
	if err != nil {
		return BriefingEntry{}, false, err
	}
	var entry BriefingEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return BriefingEntry{}, false, err
	}
	return entry, true, nil
}

func (r *redisBriefingCache) Get(ctx context.Context, mode, contentHash string) (BriefingEntry, bool, error) {
	entry, ok, err := r.load(ctx, mode)
	if err != nil || !ok {
		return BriefingEntry{}, false, err
	}
	if entry.ContentHash != contentHash {
		return BriefingEntry{}, false, r.rdb.Del(ctx, r.key(mode)).Err()
	}
	return entry, true, nil
}

func (r *redisBriefingCache) Set(ctx context.Context, entry BriefingEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = r.clock.Now()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(entry.Mode), b, r.ttl).Err()
}

func (r *redisBriefingCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.keyNS+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *redisBriefingCache) Stats(ctx context.Context, modes []string) (map[string]ModeStats, error) {
	now := r.clock.Now()
	out := make(map[string]ModeStats, len(modes))
	for _, mode := range modes {
		entry, ok, err := r.load(ctx, mode)
		if err != nil {
			return nil, err
		}
		if !ok {
			out[mode] = ModeStats{}
			continue
		}
		out[mode] = ModeStats{HasCache: true, Age: now.Sub(entry.CachedAt)}
	}
	return out, nil
}
