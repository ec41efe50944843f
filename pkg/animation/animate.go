// Package animation animates values on a frame clock.
//
// A [Controller] steps a value toward a target once per tick and stores it
// in snapshot state, so every frame of a run invalidates the scopes that
// read it. [AnimateFloat] wraps a remembered controller for use inside
// composable functions:
//
//	alpha := animation.AnimateFloat(c, target, 300*time.Millisecond, animation.EaseOut)
//
// Compositions find their clock through [LocalFrameClock]. Without one,
// values jump straight to their target.
package animation

import (
	"time"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/slottable"
)

// LocalFrameClock provides the clock animations tick on.
var LocalFrameClock = core.NewCompositionLocal[frameclock.FrameClock](nil).Named("animation.FrameClock")

// AnimateFloat returns a value that follows target, easing toward each new
// target over duration. The first composition returns target itself.
func AnimateFloat(c *core.Composer, target float64, duration time.Duration, curve Curve) float64 {
	return AnimateFloatKeyed(c, slottable.CallSiteKey(1), target, duration, curve)
}

// AnimateFloatKeyed is AnimateFloat with an explicit group key.
func AnimateFloatKeyed(c *core.Composer, key int64, target float64, duration time.Duration, curve Curve) float64 {
	c.StartGroup(key)
	clock := core.Current(c, LocalFrameClock)
	ctrl := core.RememberDisposable(c, func() *Controller {
		return NewControllerAt(c.Coordinator(), clock, duration, target)
	}, clock)
	core.SideEffect(c, func() {
		ctrl.setSpec(duration, curve)
		ctrl.AnimateTo(target)
	})
	v := core.Read(c, ctrl.ValueState())
	c.EndGroup()
	return v
}

func (c *Controller) setSpec(duration time.Duration, curve Curve) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Duration = duration
	c.Curve = curve
}
