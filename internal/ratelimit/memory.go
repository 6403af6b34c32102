package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/predixa/entitlements/internal/clock"
)

const memorySweepEvery = 1024

// MemoryStore is a process-local Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]Window
	ops     int
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &MemoryStore{clock: c, windows: make(map[string]Window)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Window, bool, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !w.ResetAt.After(s.clock.Now()) {
		return Window{}, false, nil
	}
	return w, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, w Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !w.ResetAt.After(s.clock.Now()) {
		delete(s.windows, key)
		return nil
	}
	s.windows[key] = w
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.ops++
	if s.ops%memorySweepEvery == 0 {
		s.sweepLocked(now)
	}

	w, ok := s.windows[key]
	if !ok || !w.ResetAt.After(now) {
		w = Window{ResetAt: now.Add(window)}
	}
	w.Count++
	s.windows[key] = w
	return w, nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, w := range s.windows {
		if !w.ResetAt.After(now) {
			delete(s.windows, key)
		}
	}
}
