package testing

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-drift/recompose/pkg/core"
)

// Node is a plain tree node for tests.
type Node struct {
	Name     string
	Props    map[string]any
	Children []*Node
	// Parent is set while the node is attached.
	Parent *Node
}

// NewNode returns a node named name.
func NewNode(name string) *Node {
	return &Node{Name: name, Props: make(map[string]any)}
}

// SetProp sets a property.
func (n *Node) SetProp(key string, value any) {
	if n.Props == nil {
		n.Props = make(map[string]any)
	}
	n.Props[key] = value
}

// Prop returns a property.
func (n *Node) Prop(key string) any { return n.Props[key] }

// ChildNames returns the names of the direct children.
func (n *Node) ChildNames() []string {
	out := make([]string, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.Name
	}
	return out
}

// Find returns the first node named name in depth-first order.
func (n *Node) Find(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if f := c.Find(name); f != nil {
			return f
		}
	}
	return nil
}

// Count returns the number of nodes in the subtree, n included.
func (n *Node) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// String renders the subtree one node per line, indented by depth, with
// properties in key order.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb, 0)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Name)
	if len(n.Props) > 0 {
		keys := slices.Sorted(maps.Keys(n.Props))
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s: %v", k, n.Props[k])
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	for _, c := range n.Children {
		c.write(sb, depth+1)
	}
}

// Calls counts the applier calls by kind.
type Calls struct {
	Down, Up, Insert, Remove, Move, Clear int
}

// Total returns the number of calls.
func (c Calls) Total() int {
	return c.Down + c.Up + c.Insert + c.Remove + c.Move + c.Clear
}

// Mutations returns the number of calls that changed the tree.
func (c Calls) Mutations() int {
	return c.Insert + c.Remove + c.Move + c.Clear
}

// NodeApplier applies changes to a tree of *Node and counts the calls it
// receives. It is safe to read Calls and Log from another goroutine.
type NodeApplier struct {
	core.StackApplier

	mu    sync.Mutex
	calls Calls
	log   []string
}

// NewNodeApplier returns an applier over a new root node named "root".
func NewNodeApplier() *NodeApplier {
	return &NodeApplier{StackApplier: core.NewStackApplier(NewNode("root"))}
}

// RootNode returns the root node.
func (a *NodeApplier) RootNode() *Node { return a.Root().(*Node) }

func (a *NodeApplier) current() *Node { return a.Current().(*Node) }

func (a *NodeApplier) record(entry string, count func(*Calls)) {
	a.mu.Lock()
	count(&a.calls)
	a.log = append(a.log, entry)
	a.mu.Unlock()
}

// Down implements core.Applier.
func (a *NodeApplier) Down(node any) {
	a.record("down "+node.(*Node).Name, func(c *Calls) { c.Down++ })
	a.StackApplier.Down(node)
}

// Up implements core.Applier.
func (a *NodeApplier) Up() {
	a.record("up", func(c *Calls) { c.Up++ })
	a.StackApplier.Up()
}

// Insert implements core.Applier.
func (a *NodeApplier) Insert(index int, node any) {
	n := node.(*Node)
	parent := a.current()
	a.record(fmt.Sprintf("insert %s %d %s", parent.Name, index, n.Name), func(c *Calls) { c.Insert++ })
	n.Parent = parent
	parent.Children = slices.Insert(parent.Children, index, n)
}

// Remove implements core.Applier.
func (a *NodeApplier) Remove(index, count int) {
	parent := a.current()
	a.record(fmt.Sprintf("remove %s %d %d", parent.Name, index, count), func(c *Calls) { c.Remove++ })
	for _, n := range parent.Children[index : index+count] {
		n.Parent = nil
	}
	parent.Children = slices.Delete(parent.Children, index, index+count)
}

// Move implements core.Applier.
func (a *NodeApplier) Move(from, to, count int) {
	parent := a.current()
	a.record(fmt.Sprintf("move %s %d %d %d", parent.Name, from, to, count), func(c *Calls) { c.Move++ })
	parent.Children = MoveRange(parent.Children, from, to, count)
}

// Clear implements core.Applier.
func (a *NodeApplier) Clear() {
	a.record("clear", func(c *Calls) { c.Clear++ })
	a.Reset()
	root := a.RootNode()
	for _, n := range root.Children {
		n.Parent = nil
	}
	root.Children = nil
}

// Calls returns the call counts.
func (a *NodeApplier) Calls() Calls {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Log returns the calls made since the last ResetCalls.
func (a *NodeApplier) Log() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.log)
}

// ResetCalls clears the counts and the log.
func (a *NodeApplier) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = Calls{}
	a.log = nil
}

var (
	_ core.Applier = (*NodeApplier)(nil)
)
