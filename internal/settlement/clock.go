package settlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Clock supplies the current unix time in seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// FixedClock always reports the same instant, e.g. a block timestamp.
type FixedClock uint64

func (c FixedClock) Now() uint64 {
	return uint64(c)
}

// HeadSource reports the timestamp of the latest block.
type HeadSource interface {
	LatestTimestamp(ctx context.Context) (uint64, error)
}

// ChainClock reports the block timestamp seen by the last Sync. Long-running
// callers sync it before each unit of work; it never moves backwards.
type ChainClock struct {
	src HeadSource
	now atomic.Uint64
}

// NewChainClock builds a clock and reads the current head once.
func NewChainClock(ctx context.Context, src HeadSource) (*ChainClock, error) {
	c := &ChainClock{src: src}
	if err := c.Sync(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Sync refreshes the clock from the latest block.
func (c *ChainClock) Sync(ctx context.Context) error {
	ts, err := c.src.LatestTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("latest block timestamp: %w", err)
	}
	for {
		cur := c.now.Load()
		if ts <= cur || c.now.CompareAndSwap(cur, ts) {
			return nil
		}
	}
}

func (c *ChainClock) Now() uint64 {
	return c.now.Load()
}

// ManualClock is advanced explicitly by tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += uint64(d / time.Second)
	c.mu.Unlock()
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts uint64) {
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}
