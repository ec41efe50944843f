package animation

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// Status is the phase of a [Controller].
//
//	                Forward()
//	Dismissed ──────────────────► Completed
//	    ▲                              │
//	    │         Reverse()            │
//	    └──────────────────────────────┘
//
// While a run is in flight the status is Forward or Reverse. A run that
// ends, or is stopped, settles on Completed after moving up and Dismissed
// after moving down.
type Status int

const (
	Dismissed Status = iota
	Forward
	Reverse
	Completed
)

func (s Status) String() string {
	switch s {
	case Dismissed:
		return "dismissed"
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Controller moves a value toward a target over Duration, one step per
// tick of a frame clock. The value and status live in snapshot state, so a
// composable that reads them recomposes on every frame of a run.
//
// A Controller without a clock, or with a non-positive duration, jumps to
// the target. Call Dispose to cancel a pending frame.
type Controller struct {
	// Duration is the length of every run, however far it moves.
	Duration time.Duration
	// Curve eases progress. Nil means linear.
	Curve Curve
	// Lower and Upper bound Forward and Reverse.
	Lower, Upper float64

	clock  frameclock.FrameClock
	value  *snapshot.MutableState[float64]
	status *snapshot.MutableState[Status]

	mu       sync.Mutex
	cancel   func()
	start    time.Time
	from     float64
	target   float64
	disposed bool
}

// NewController returns a controller at 0 with bounds [0, 1].
func NewController(coord *snapshot.Coordinator, clock frameclock.FrameClock, duration time.Duration) *Controller {
	return NewControllerAt(coord, clock, duration, 0)
}

// NewControllerAt returns a controller at initial with bounds [0, 1].
func NewControllerAt(coord *snapshot.Coordinator, clock frameclock.FrameClock, duration time.Duration, initial float64) *Controller {
	return &Controller{
		Duration: duration,
		Upper:    1,
		clock:    clock,
		value:    snapshot.MutableStateOf(coord, initial).Named("animation.value"),
		status:   snapshot.MutableStateOf(coord, Dismissed).Named("animation.status"),
		target:   initial,
	}
}

// ValueState is the state holding the current value. Composables read it
// with core.Read.
func (c *Controller) ValueState() *snapshot.MutableState[float64] { return c.value }

// StatusState is the state holding the current status.
func (c *Controller) StatusState() *snapshot.MutableState[Status] { return c.status }

// Value returns the current value in the global snapshot.
func (c *Controller) Value() float64 { return c.value.Value() }

// Status returns the current status in the global snapshot.
func (c *Controller) Status() Status { return c.status.Value() }

// Target returns the value the current or last run moved toward.
func (c *Controller) Target() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// IsAnimating reports whether a run is waiting for its next frame.
func (c *Controller) IsAnimating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Forward runs toward Upper.
func (c *Controller) Forward() { c.run(c.Upper, Forward) }

// Reverse runs toward Lower.
func (c *Controller) Reverse() { c.run(c.Lower, Reverse) }

// AnimateTo runs toward target. A run already heading to target continues
// undisturbed.
func (c *Controller) AnimateTo(target float64) {
	c.mu.Lock()
	same := c.target == target && (c.cancel != nil || c.value.Value() == target)
	c.mu.Unlock()
	if same {
		return
	}
	if target >= c.value.Value() {
		c.run(target, Forward)
	} else {
		c.run(target, Reverse)
	}
}

// Snap stops any run and jumps to v.
func (c *Controller) Snap(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.target = v
	c.value.Set(v)
	c.settleLocked(v >= c.Upper)
}

// Reset snaps to Lower.
func (c *Controller) Reset() { c.Snap(c.Lower) }

// Stop ends the run at the current value.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.stopLocked()
	c.settleLocked(c.status.Value() == Forward)
}

// Dispose cancels any pending frame. Later runs jump to their target.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.disposed = true
}

func (c *Controller) run(target float64, direction Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.from = c.value.Value()
	c.target = target
	if c.clock == nil || c.Duration <= 0 || c.disposed || c.from == target {
		c.value.Set(target)
		c.settleLocked(direction == Forward)
		return
	}
	c.start = time.Time{}
	c.status.Set(direction)
	c.cancel = c.clock.OnNextTick(c.frame)
}

// frame advances the run. The first frame of a run only records the start
// time, so progress is measured between frames the clock produced.
func (c *Controller) frame(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	if c.start.IsZero() {
		c.start = t
	}
	progress := min(float64(t.Sub(c.start))/float64(c.Duration), 1)
	c.value.Set(c.from + (c.target-c.from)*c.Curve.Transform(progress))
	if progress >= 1 {
		c.cancel = nil
		c.settleLocked(c.status.Value() == Forward)
		return
	}
	c.cancel = c.clock.OnNextTick(c.frame)
}

func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) settleLocked(up bool) {
	if up {
		c.status.Set(Completed)
	} else {
		c.status.Set(Dismissed)
	}
}
