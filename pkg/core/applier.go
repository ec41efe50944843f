package core

// Applier mutates the tree of nodes a composition emits. The runtime does
// not know what a node is; an Applier may manage views, DOM elements or
// plain test structs.
//
// All calls are made during the Reconciling phase, on the goroutine that
// runs the recomposition. Indices are relative to the children of Current.
type Applier interface {
	// Current returns the node children are inserted into.
	Current() any
	// Down makes node the current node.
	Down(node any)
	// Up makes the parent of the current node current again.
	Up()
	// Insert inserts node at index among the current node's children.
	Insert(index int, node any)
	// Remove removes count children starting at index.
	Remove(index, count int)
	// Move moves count children starting at from so that they start at to.
	// Both indices are positions before the move, so to > from places the
	// range before the child that was at to.
	Move(from, to, count int)
	// Clear removes every node below the root and makes the root current.
	Clear()
}

// ChangeListener is implemented by appliers that want to bracket a batch
// of changes, for example to defer layout until the whole batch is in.
type ChangeListener interface {
	OnBeginChanges()
	OnEndChanges()
}

// StackApplier implements the Down/Up bookkeeping of an Applier over a
// stack of nodes. Embed it and implement Insert, Remove, Move and the
// root-specific part of Clear.
type StackApplier struct {
	root  any
	stack []any
	cur   any
}

// NewStackApplier returns a StackApplier rooted at root.
func NewStackApplier(root any) StackApplier {
	return StackApplier{root: root, cur: root}
}

// Root returns the root node.
func (a *StackApplier) Root() any { return a.root }

// Current returns the current node.
func (a *StackApplier) Current() any { return a.cur }

// Down pushes the current node and makes node current.
func (a *StackApplier) Down(node any) {
	a.stack = append(a.stack, a.cur)
	a.cur = node
}

// Up pops back to the parent node.
func (a *StackApplier) Up() {
	if len(a.stack) == 0 {
		return
	}
	a.cur = a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]
}

// Reset makes the root current and drops the stack.
func (a *StackApplier) Reset() {
	a.stack = a.stack[:0]
	a.cur = a.root
}
