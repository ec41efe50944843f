// Package frameclock provides the tick sources that pace recomposition.
//
// A FrameClock calls back once on its next tick, for example the next
// vsync of a display or the next interval of a timer. The recomposer asks
// for a tick whenever it has pending work and runs one pass per tick.
//
// # Implementations
//
//   - [ManualClock] ticks only when [ManualClock.Tick] is called. Tests use
//     it to run passes at exact points.
//   - [TickerClock] ticks on a fixed interval while started.
//   - [ImmediateClock] ticks as soon as a callback is registered.
//   - [VirtualClock] keeps its own time and ticks on [VirtualClock.Frame],
//     for deterministic frame timestamps.
package frameclock

import (
	"slices"
	"sync"
	"time"
)

// FrameClock schedules callbacks for the next tick.
type FrameClock interface {
	// OnNextTick registers fn to be called once on the next tick with the
	// tick's timestamp. The returned function cancels the registration.
	OnNextTick(fn func(frameTime time.Time)) (cancel func())
}

// waiters is a set of pending tick callbacks.
type waiters struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(time.Time)
}

func (w *waiters) add(fn func(time.Time)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(time.Time))
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

func (w *waiters) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fns)
}

// fire calls every waiter registered before the call. Waiters registered by
// the callbacks wait for the next tick.
func (w *waiters) fire(t time.Time) int {
	w.mu.Lock()
	fns := make([]func(time.Time), 0, len(w.fns))
	ids := make([]int, 0, len(w.fns))
	for id := range w.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, w.fns[id])
	}
	clear(w.fns)
	w.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
	return len(fns)
}

// ManualClock ticks when Tick is called.
type ManualClock struct {
	w waiters
}

// NewManualClock returns a clock with no pending waiters.
func NewManualClock() *ManualClock { return &ManualClock{} }

// OnNextTick implements FrameClock.
func (c *ManualClock) OnNextTick(fn func(time.Time)) func() { return c.w.add(fn) }

// Tick runs the pending callbacks with Now() and returns how many ran.
func (c *ManualClock) Tick() int { return c.w.fire(Now()) }

// Pending returns the number of registered callbacks.
func (c *ManualClock) Pending() int { return c.w.len() }

// ImmediateClock ticks as soon as a callback is registered, on the
// registering goroutine.
type ImmediateClock struct{}

// OnNextTick implements FrameClock.
func (ImmediateClock) OnNextTick(fn func(time.Time)) func() {
	fn(Now())
	return func() {}
}
