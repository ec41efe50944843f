package animation

import "math"

// Curve maps linear progress in [0, 1] to eased progress. Curves return 0
// at 0 and 1 at 1; values in between may overshoot.
type Curve func(t float64) float64

// Transform applies the curve, treating a nil curve as [Linear].
func (c Curve) Transform(t float64) float64 {
	if c == nil {
		return t
	}
	return c(t)
}

// Linear applies no easing.
func Linear(t float64) float64 { return t }

// Standard easings, equivalent to the CSS keywords of the same name.
var (
	Ease      = CubicBezier(0.25, 0.1, 0.25, 1.0)
	EaseIn    = CubicBezier(0.4, 0.0, 1.0, 1.0)
	EaseOut   = CubicBezier(0.0, 0.0, 0.2, 1.0)
	EaseInOut = CubicBezier(0.4, 0.0, 0.2, 1.0)
)

// CubicBezier returns the easing defined by control points (x1, y1) and
// (x2, y2), like CSS cubic-bezier(). The end points are fixed at (0, 0) and
// (1, 1).
func CubicBezier(x1, y1, x2, y2 float64) Curve {
	bx := bezier{p1: x1, p2: x2}
	by := bezier{p1: y1, p2: y2}
	return func(t float64) float64 {
		switch {
		case t <= 0:
			return 0
		case t >= 1:
			return 1
		}
		return by.at(bx.solve(t))
	}
}

// bezier is one axis of a cubic bezier from 0 to 1.
type bezier struct{ p1, p2 float64 }

const epsilon = 1e-7

func (b bezier) at(u float64) float64 {
	inv := 1 - u
	return 3*inv*inv*u*b.p1 + 3*inv*u*u*b.p2 + u*u*u
}

func (b bezier) slope(u float64) float64 {
	inv := 1 - u
	return 3*inv*inv*b.p1 + 6*inv*u*(b.p2-b.p1) + 3*u*u*(1-b.p2)
}

// solve finds u in [0, 1] with at(u) == x. Newton's method usually
// converges in a few steps; bisection covers flat slopes.
func (b bezier) solve(x float64) float64 {
	u := x
	for range 8 {
		d := b.at(u) - x
		if math.Abs(d) < epsilon {
			return u
		}
		s := b.slope(u)
		if math.Abs(s) < epsilon {
			break
		}
		u -= d / s
	}
	lo, hi := 0.0, 1.0
	u = min(max(u, lo), hi)
	for range 32 {
		d := b.at(u) - x
		if math.Abs(d) < epsilon {
			break
		}
		if d > 0 {
			hi = u
		} else {
			lo = u
		}
		u = (lo + hi) / 2
	}
	return u
}
