package core_test

import (
	"context"
	"fmt"

	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/snapshot"
	rt "github.com/go-drift/recompose/pkg/testing"
)

// This example composes a counter and recomposes it after the state it
// reads changes.
func ExampleComposition() {
	coord := snapshot.NewCoordinator()
	applier := rt.NewNodeApplier()
	comp := core.New(coord, applier)
	defer comp.Dispose()

	count := snapshot.MutableStateOf(coord, 0)
	comp.SetContent(func(c *core.Composer) {
		core.Restartable(c, func(c *core.Composer) {
			rt.Text(c, fmt.Sprintf("count %d", core.Read(c, count)))
		})
	})
	fmt.Print(applier.RootNode())

	count.Set(1)
	comp.RecordModificationsOf([]snapshot.StateObject{count})
	comp.Recompose(context.Background())
	fmt.Print(applier.RootNode())

	// Output:
	// root
	//   text {text: count 0}
	// root
	//   text {text: count 1}
}

// This example shows that remembered values survive recomposition while
// keyed values are recalculated when their key changes.
func ExampleRememberKeyed() {
	coord := snapshot.NewCoordinator()
	comp := core.New(coord, rt.NewNodeApplier())
	defer comp.Dispose()

	unit := snapshot.MutableStateOf(coord, "ms")
	comp.SetContent(func(c *core.Composer) {
		core.Restartable(c, func(c *core.Composer) {
			u := core.Read(c, unit)
			label := core.RememberKeyed(c, func() string {
				fmt.Println("formatting for", u)
				return "elapsed (" + u + ")"
			}, u)
			fmt.Println(label)
		})
	})

	unit.Set("s")
	comp.RecordModificationsOf([]snapshot.StateObject{unit})
	comp.Recompose(context.Background())

	// Output:
	// formatting for ms
	// elapsed (ms)
	// formatting for s
	// elapsed (s)
}

var locale = core.NewCompositionLocal("en")

// This example provides a composition local to a subtree.
func ExampleProvide() {
	comp := core.New(snapshot.NewCoordinator(), rt.NewNodeApplier())
	defer comp.Dispose()

	comp.SetContent(func(c *core.Composer) {
		fmt.Println(core.Current(c, locale))
		core.Provide(c, locale, "fr", func(c *core.Composer) {
			fmt.Println(core.Current(c, locale))
		})
	})

	// Output:
	// en
	// fr
}
