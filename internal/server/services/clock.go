package services

import (
	"sync"
	"time"
)

// Clock hands out server stamps and tracks the ones still being written.
//
// Stamps are epoch milliseconds, strictly increasing across calls. The
// watermark is the highest stamp below every reservation still in flight:
// a cursor at or under it can never be overtaken by a later commit.
type Clock struct {
	mu       sync.Mutex
	now      func() time.Time
	last     int64
	inflight map[int64]struct{}
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, inflight: map[int64]struct{}{}}
}

// Observe raises the clock to at least stamp, e.g. the highest stamp
// already persisted when the server starts.
func (c *Clock) Observe(stamp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = max(c.last, stamp)
}

// Reserve returns a new stamp and marks it in flight until Release.
func (c *Clock) Reserve() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = max(c.now().UnixMilli(), c.last+1)
	c.inflight[c.last] = struct{}{}
	return c.last
}

func (c *Clock) Release(stamp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, stamp)
}

// Watermark is the cursor value safe to hand to clients right now.
func (c *Clock) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.last
	for s := range c.inflight {
		w = min(w, s-1)
	}
	return w
}

// Now is the wall clock in epoch milliseconds.
func (c *Clock) Now() int64 {
	return c.now().UnixMilli()
}
