package frameclock

import (
	"sync"
	"time"
)

// VirtualClock is a FrameClock with its own time. Time moves only through
// Advance, Set or Frame, so tick timestamps are deterministic. It also
// implements Clock; installed with SetClock it becomes the time source of
// Now as well.
type VirtualClock struct {
	w waiters

	mu     sync.Mutex
	now    time.Time
	frames int64
}

// NewVirtualClock returns a clock reading start with no pending waiters.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now implements Clock.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// OnNextTick implements FrameClock.
func (c *VirtualClock) OnNextTick(fn func(time.Time)) func() { return c.w.add(fn) }

// Advance moves time forward by d without ticking.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves time to t without ticking.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Frame advances time by d and runs the pending callbacks with the new
// time. It returns how many ran.
func (c *VirtualClock) Frame(d time.Duration) int {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.frames++
	now := c.now
	c.mu.Unlock()
	return c.w.fire(now)
}

// Pending returns the number of registered callbacks.
func (c *VirtualClock) Pending() int { return c.w.len() }

// Frames returns how many frames ran.
func (c *VirtualClock) Frames() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}
