package animation_test

import (
	"fmt"
	"time"

	"github.com/go-drift/recompose/pkg/animation"
	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/snapshot"
	rt "github.com/go-drift/recompose/pkg/testing"
)

func ExampleController() {
	frames := frameclock.NewVirtualClock(rt.Epoch)
	defer frameclock.SetClock(frameclock.SetClock(frames))

	ctrl := animation.NewController(snapshot.NewCoordinator(), frames, 100*time.Millisecond)
	ctrl.Forward()
	for step := time.Duration(0); frames.Pending() > 0; step = 20 * time.Millisecond {
		frames.Frame(step)
		fmt.Printf("%.1f %s\n", ctrl.Value(), ctrl.Status())
	}
	// Output:
	// 0.0 forward
	// 0.2 forward
	// 0.4 forward
	// 0.6 forward
	// 0.8 forward
	// 1.0 completed
}

func ExampleTween() {
	width := animation.TweenNumber(10.0, 20.0)
	percent := animation.TweenNumber(0, 100)
	fmt.Println(width.At(0.25), percent.At(0.5))
	// Output: 12.5 50
}
