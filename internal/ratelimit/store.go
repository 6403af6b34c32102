package ratelimit

import (
	"context"
	"time"
)

// Window is the counter state of one fixed window.
type Window struct {
	Count   int64
	ResetAt time.Time
}

// Store holds fixed-window counters. Implementations must make Increment
// atomic per key: the first increment of a window sets its expiry.
type Store interface {
	Get(ctx context.Context, key string) (Window, bool, error)
	Set(ctx context.Context, key string, w Window) error
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
}
