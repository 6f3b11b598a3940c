// Package pipeline implements the generation pipelines.
//
// pacer.go implements the fixed-interval pacer that spaces out the
// sequential per-subject remix calls in the group pipeline, keeping the
// burst rate against the image service predictable.
package pipeline

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces out successive calls. Wait blocks until the next call may
// proceed, or until the context is cancelled.
type Pacer interface {
	Wait(ctx context.Context) error
}

// IntervalPacer enforces a minimum interval between successive Wait
// returns. The first call never waits.
//
// Thread Safety: IntervalPacer is safe for concurrent use, though waits
// are granted in lock-acquisition order, not arrival order.
type IntervalPacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewIntervalPacer creates a pacer with the given minimum interval.
// A non-positive interval produces a pacer that never waits.
func NewIntervalPacer(interval time.Duration) *IntervalPacer {
	return &IntervalPacer{interval: interval}
}

// Wait blocks until at least the configured interval has elapsed since
// the previous successful Wait. Returns the context error if cancelled
// while waiting; a cancelled wait does not count as a slot.
func (p *IntervalPacer) Wait(ctx context.Context) error {
	p.mu.Lock()

	now := time.Now()
	if p.last.IsZero() || p.interval <= 0 || now.Sub(p.last) >= p.interval {
		p.last = now
		p.mu.Unlock()
		return nil
	}

	wait := p.interval - now.Sub(p.last)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
	return nil
}

// Ensure IntervalPacer implements Pacer at compile time.
var _ Pacer = (*IntervalPacer)(nil)
