package storage

import (
	"sync"
	"time"
)

// StorePrecision is the resolution of persisted timestamps. MongoDB dates are milliseconds,
// badger uses the same resolution so both stores return identical values.
const StorePrecision = time.Millisecond

// Clock hands out creation timestamps that never go backwards within the process,
// even if the wall clock does.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next()
}

func (c *Clock) next() time.Time {
	at := c.now().UTC().Truncate(StorePrecision)
	if at.Before(c.last) {
		at = c.last
	}
	c.last = at
	return at
}
