package util

import (
	"context"
	"sync"
	"time"

	"github.com/tilinna/clock"
)

// AlignedTicker fires on the boundaries where (t - offset) is a multiple of
// interval, so every backend flushing at the same frequency flushes at the same
// wall clock instants. The time sent is the boundary itself rather than the time
// the timer fired. Ticks are dropped while the receiver is busy.
type AlignedTicker struct {
	C <-chan time.Time

	c        chan time.Time
	stop     chan struct{}
	stopOnce sync.Once
	interval time.Duration
	offset   time.Duration
}

// NewAlignedTickerWithContext starts a ticker driven by the clock of ctx. It stops
// when ctx is done or Stop is called.
func NewAlignedTickerWithContext(ctx context.Context, interval, offset time.Duration) *AlignedTicker {
	ch := make(chan time.Time, 1)
	at := &AlignedTicker{
		C:        ch,
		c:        ch,
		stop:     make(chan struct{}),
		interval: interval,
		offset:   offset,
	}
	go at.run(ctx)
	return at
}

// nextBoundary returns the first boundary strictly after now.
func (at *AlignedTicker) nextBoundary(now time.Time) time.Time {
	return now.Add(-at.offset).Truncate(at.interval).Add(at.interval + at.offset)
}

func (at *AlignedTicker) run(ctx context.Context) {
	clck := clock.FromContext(ctx)
	now := clck.Now()
	for {
		boundary := at.nextBoundary(now)
		tmr := clck.NewTimer(boundary.Sub(now))
		select {
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-at.stop:
			tmr.Stop()
			return
		case now = <-tmr.C:
			select {
			case at.c <- boundary:
			default:
			}
			if now.Before(boundary) {
				now = boundary
			}
		}
	}
}

// Stop ends the ticker. It is safe to call more than once.
func (at *AlignedTicker) Stop() {
	at.stopOnce.Do(func() {
		close(at.stop)
	})
}
