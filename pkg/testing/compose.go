package testing

import (
	"github.com/go-drift/recompose/pkg/core"
	"github.com/go-drift/recompose/pkg/slottable"
)

// Props are node properties passed to Box and Leaf.
type Props map[string]any

// Box emits a node named name with props and the children content emits.
func Box(c *core.Composer, name string, props Props, content func(*core.Composer)) *Node {
	return BoxKeyed(c, slottable.CallSiteKey(1), name, props, content)
}

// BoxKeyed is Box with an explicit group key.
func BoxKeyed(c *core.Composer, key int64, name string, props Props, content func(*core.Composer)) *Node {
	return core.EmitKeyed(c, key,
		func() *Node { return NewNode(name) },
		func(c *core.Composer, _ *Node) { setProps(c, props) },
		content,
	)
}

// Leaf emits a node without children.
func Leaf(c *core.Composer, name string, props Props) *Node {
	return BoxKeyed(c, slottable.CallSiteKey(1), name, props, nil)
}

// Text emits a leaf node named "text" whose "text" property is s.
func Text(c *core.Composer, s string) *Node {
	return BoxKeyed(c, slottable.CallSiteKey(1), "text", Props{"text": s}, nil)
}

func setProps(c *core.Composer, props Props) {
	c.Set(props, func(node, value any) {
		n := node.(*Node)
		clear(n.Props)
		for k, v := range value.(Props) {
			n.SetProp(k, v)
		}
	})
}

// Column emits each item with key by calling row inside a movable group.
func Column[T any](c *core.Composer, name string, items []T, key func(T) any, row func(*core.Composer, T)) *Node {
	return BoxKeyed(c, slottable.CallSiteKey(1), name, nil, func(c *core.Composer) {
		for _, item := range items {
			core.KeyAt(c, 0x636f6c, key(item), func(c *core.Composer) { row(c, item) })
		}
	})
}

// Scope is core.Restartable with a scope name, so Tester.Executions can
// count the body's executions from the first pass on.
func Scope(c *core.Composer, name string, body func(*core.Composer), args ...any) *core.RecomposeScope {
	return core.RestartableKeyed(c, slottable.CallSiteKey(1), func(c *core.Composer) {
		c.CurrentScope().Named(name)
		body(c)
	}, args...)
}
