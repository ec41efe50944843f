package animation

// Tween maps progress in [0, 1] onto a range of any type.
type Tween[T any] struct {
	Begin, End T
	// Lerp interpolates between a and b. A nil Lerp jumps to End.
	Lerp func(a, b T, t float64) T
}

// At returns the value at progress t.
func (tw Tween[T]) At(t float64) T {
	if tw.Lerp == nil {
		return tw.End
	}
	return tw.Lerp(tw.Begin, tw.End, t)
}

// Number is the set of types [LerpNumber] interpolates.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// LerpNumber interpolates numerically. Integer results are truncated.
func LerpNumber[T Number](a, b T, t float64) T {
	return T(float64(a) + (float64(b)-float64(a))*t)
}

// TweenNumber returns a tween from begin to end.
func TweenNumber[T Number](begin, end T) Tween[T] {
	return Tween[T]{Begin: begin, End: end, Lerp: LerpNumber[T]}
}
