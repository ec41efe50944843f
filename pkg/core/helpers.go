package core

import (
	"github.com/go-drift/recompose/pkg/slottable"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// Restartable calls body inside a restart group keyed by the caller's
// source position. The body is skipped when args equal the previous pass's
// args and nothing body read has changed:
//
//	func Counter(c *core.Composer, label string, count *snapshot.MutableState[int]) {
//	    core.Restartable(c, func(c *core.Composer) {
//	        n := core.Read(c, count)
//	        text(c, fmt.Sprintf("%s: %d", label, n))
//	    }, label)
//	}
//
// Functions are never equal to each other, so passing one in args makes
// the body run on every pass of the enclosing scope.
func Restartable(c *Composer, body func(*Composer), args ...any) *RecomposeScope {
	return RestartableKeyed(c, slottable.CallSiteKey(1), body, args...)
}

// RestartableKeyed is Restartable with an explicit group key.
func RestartableKeyed(c *Composer, key int64, body func(*Composer), args ...any) *RecomposeScope {
	scope := c.StartRestartGroup(key)
	changed := false
	for _, a := range args {
		// Every arg is compared so the slot layout does not depend on
		// which arg changed first.
		changed = c.Changed(a) || changed
	}
	if !changed && c.Skipping() {
		c.SkipToGroupEnd()
	} else {
		c.execute(body)
	}
	scope = c.EndRestartGroup()
	scope.UpdateScope(func(c *Composer) {
		RestartableKeyed(c, key, body, args...)
	})
	return scope
}

// Group calls content inside a plain group keyed by the caller's source
// position. Use it to give conditional content a stable identity.
func Group(c *Composer, content func(*Composer)) {
	c.StartGroup(slottable.CallSiteKey(1))
	content(c)
	c.EndGroup()
}

// Key calls content inside a movable group identified by key. Siblings
// produced by one loop keep their state and nodes when reordered:
//
//	for _, item := range items {
//	    core.Key(c, item.ID, func(c *core.Composer) { row(c, item) })
//	}
func Key(c *Composer, key any, content func(*Composer)) {
	KeyAt(c, slottable.CallSiteKey(1), key, content)
}

// KeyAt is Key with an explicit call-site key.
func KeyAt(c *Composer, callSite int64, key any, content func(*Composer)) {
	c.StartMovableGroup(callSite, key)
	content(c)
	c.EndGroup()
}

// Emit emits a node. factory creates it on first composition; update runs
// on every execution and should use Composer.Set to change node properties;
// content emits the node's children.
func Emit[N any](c *Composer, factory func() N, update func(c *Composer, node N), content func(*Composer)) N {
	return EmitKeyed(c, slottable.CallSiteKey(1), factory, update, content)
}

// EmitKeyed is Emit with an explicit group key.
func EmitKeyed[N any](c *Composer, key int64, factory func() N, update func(c *Composer, node N), content func(*Composer)) N {
	c.StartNode(key)
	var raw any
	if c.Inserting() {
		raw = c.CreateNode(func() any { return factory() })
	} else {
		raw = c.UseNode()
	}
	node, _ := raw.(N)
	if update != nil {
		update(c, node)
	}
	if content != nil {
		content(c)
	}
	c.EndNode()
	return node
}

// Read returns the value of state visible to the pass and records the read
// for the current restart scope.
func Read[T any](c *Composer, state *snapshot.MutableState[T]) T {
	return state.Read(c.Snapshot())
}

// ReadDerived is Read for derived state. The reading scope is only
// invalidated when the derived value itself changes.
func ReadDerived[T any](c *Composer, state *snapshot.DerivedState[T]) T {
	return state.Read(c.Snapshot())
}
