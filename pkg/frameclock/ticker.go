package frameclock

import (
	"sync"
	"time"
)

// TickerClock ticks on a fixed interval while started. Only intervals with
// pending callbacks do any work.
type TickerClock struct {
	interval time.Duration
	w        waiters

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	frames int64
}

// NewTickerClock returns a stopped clock ticking every interval.
func NewTickerClock(interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &TickerClock{interval: interval}
}

// Interval returns the tick interval.
func (c *TickerClock) Interval() time.Duration { return c.interval }

// OnNextTick implements FrameClock.
func (c *TickerClock) OnNextTick(fn func(time.Time)) func() { return c.w.add(fn) }

// Start begins ticking. It does nothing if the clock is running.
func (c *TickerClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

// Stop stops ticking and waits for the tick goroutine to exit. Pending
// callbacks stay registered until the clock is started again.
func (c *TickerClock) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// IsActive reports whether the clock is ticking.
func (c *TickerClock) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Frames returns the number of ticks that ran callbacks.
func (c *TickerClock) Frames() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *TickerClock) run(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if c.w.fire(Now()) > 0 {
				c.mu.Lock()
				c.frames++
				c.mu.Unlock()
			}
		}
	}
}
