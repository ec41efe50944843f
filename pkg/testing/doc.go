// Package testing provides helpers for testing composable functions.
//
// # Quick Start
//
// Create a tester, set content and pump frames:
//
//	func TestCounter(t *testing.T) {
//	    tester := recomposetest.NewTesterWithT(t)
//	    count := snapshot.MutableStateOf(tester.Coordinator(), 0)
//	    require.NoError(t, tester.SetContent(func(c *core.Composer) {
//	        recomposetest.Scope(c, "counter", func(c *core.Composer) {
//	            recomposetest.Text(c, strconv.Itoa(core.Read(c, count)))
//	        })
//	    }))
//
//	    count.Set(1)
//	    tester.Pump()
//
//	    assert.Equal(t, 1, tester.Executions("counter"))
//	    assert.Equal(t, "1", tester.Root().Find("text").Prop("text"))
//	}
//
// # Nodes
//
// NodeApplier applies changes to a tree of *Node and logs every call, so
// tests can assert on the exact operations a pass produced. Replay and
// ListOps check that the logged operations turn the old children into the
// new ones.
//
// # Import Alias
//
// Since this package has the same name as the standard library testing
// package, import it with an alias:
//
//	import recomposetest "github.com/go-drift/recompose/pkg/testing"
package testing
