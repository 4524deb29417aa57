package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryActivityCounter is the single-process fallback used when no Redis
// address is configured.
type MemoryActivityCounter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	nowFn  func() time.Time
}

func NewMemoryActivityCounter(nowFn func() time.Time) *MemoryActivityCounter {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryActivityCounter{events: map[string][]time.Time{}, nowFn: nowFn}
}

func (c *MemoryActivityCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	cutoff := now.Add(-window)
	kept := c.events[key][:0]
	for _, at := range c.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	c.events[key] = kept
	return int64(len(kept)), nil
}
