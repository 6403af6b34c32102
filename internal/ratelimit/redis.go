package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/predixa/entitlements/internal/clock"
	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "predixa:ratelimit:"

// incrementScript bumps the counter and starts the window on the first hit.
// A key that lost its TTL gets one back so it cannot pin a client forever.
const incrementScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisStore shares counters across instances.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	clock  clock.Clock
	prefix string
}

func NewRedisStore(client *redis.Client, c clock.Clock) *RedisStore {
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(incrementScript),
		clock:  c,
		prefix: defaultKeyPrefix,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (Window, bool, error) {
	pipe := s.client.Pipeline()
	countCmd := pipe.Get(ctx, s.key(key))
	ttlCmd := pipe.PTTL(ctx, s.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Window{}, false, err
	}

	raw, err := countCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Window{}, false, fmt.Errorf("parse counter %q: %w", key, err)
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Window{}, false, nil
	}
	return Window{Count: count, ResetAt: s.clock.Now().Add(ttl)}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, w Window) error {
	ttl := w.ResetAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return s.client.Del(ctx, s.key(key)).Err()
	}
	return s.client.Set(ctx, s.key(key), w.Count, ttl).Err()
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return Window{}, errors.New("rate limit window must be positive")
	}

	res, err := s.script.Run(ctx, s.client, []string{s.key(key)}, windowMs).Result()
	if err != nil {
		return Window{}, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Window{}, fmt.Errorf("unexpected increment reply %T", res)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Window{}, fmt.Errorf("unexpected counter type %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Window{}, fmt.Errorf("unexpected ttl type %T", values[1])
	}
	return Window{Count: count, ResetAt: s.clock.Now().Add(time.Duration(ttlMs) * time.Millisecond)}, nil
}
