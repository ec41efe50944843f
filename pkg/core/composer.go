package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-drift/recompose/pkg/errors"
	"github.com/go-drift/recompose/pkg/slottable"
	"github.com/go-drift/recompose/pkg/snapshot"
)

// Phase is the state of a Composer within one pass.
type Phase int32

const (
	// PhaseIdle means no pass is running.
	PhaseIdle Phase = iota
	// PhaseComposing means composables are executing and the slot table is
	// being edited.
	PhaseComposing
	// PhaseReconciling means the recorded changes are being applied to the
	// tree and effects dispatched.
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseComposing:
		return "composing"
	case PhaseReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

type groupFrame struct {
	inserting  bool
	node       bool
	nodePushed bool
	// restore holds the locals to reinstate when the group ends.
	restore    localMap
	hasRestore bool
}

type nodeFrame struct {
	node  any
	index int
}

type scopeFrame struct {
	scope       *RecomposeScope
	depth       int
	reads       map[snapshot.StateObject]struct{}
	derived     map[snapshot.DerivedStateObject]any
	derivedDeps map[snapshot.DerivedStateObject][]snapshot.StateObject
	skipped     bool
	failed      bool
}

// Composer executes composables for one pass of a Composition. It drives
// the slot table editor, records which state each restart scope reads and
// collects the tree changes and effects that the Reconciling phase applies.
//
// A Composer is only valid inside the composable calls of the pass that
// created it and must not be retained.
type Composer struct {
	comp  *Composition
	table *slottable.Table
	ed    *slottable.Editor
	snap  *snapshot.MutableSnapshot
	ctx   context.Context
	phase atomic.Int32

	changes Changelist
	groups  []groupFrame
	nodes   []nodeFrame
	scopes  []scopeFrame
	locals  localMap

	// pass holds the scopes still to be re-executed in this pass.
	pass      map[*RecomposeScope]struct{}
	failed    []*RecomposeScope
	failures  []error
	executed  []*RecomposeScope
	skips     int
	cancelled bool
	lastSlot  slottable.Slot

	remembered []RememberObserver
	forgotten  []RememberObserver
	effects    []func()
	disposals  []*Composition
}

func newComposer(comp *Composition, ctx context.Context, pass map[*RecomposeScope]struct{}) *Composer {
	c := &Composer{
		comp:   comp,
		table:  comp.table,
		ctx:    ctx,
		pass:   pass,
		locals: comp.parentLocals,
	}
	c.nodes = append(c.nodes, nodeFrame{node: comp.applier.Current()})
	return c
}

// Phase returns the composer's phase.
func (c *Composer) Phase() Phase { return Phase(c.phase.Load()) }

// Composition returns the composition being composed.
func (c *Composer) Composition() *Composition { return c.comp }

// Snapshot returns the mutable snapshot composables read state through.
// Reads through it are tracked for the current restart scope.
func (c *Composer) Snapshot() snapshot.Snapshot { return c.snap }

// Context returns the context of the pass.
func (c *Composer) Context() context.Context { return c.ctx }

// Coordinator returns the snapshot coordinator of the composition.
func (c *Composer) Coordinator() *snapshot.Coordinator { return c.comp.coord }

// Inserting reports whether the current group is being inserted, in which
// case every slot read returns empty and nodes must be created.
func (c *Composer) Inserting() bool {
	return len(c.groups) > 0 && c.groups[len(c.groups)-1].inserting
}

// Skipping reports whether the current restart scope may skip its body: it
// is not being inserted and is not invalid.
func (c *Composer) Skipping() bool {
	if c.Inserting() || len(c.scopes) == 0 {
		return false
	}
	_, invalid := c.pass[c.scopes[len(c.scopes)-1].scope]
	return !invalid
}

func (c *Composer) checkComposing(op string) {
	if c.Phase() != PhaseComposing {
		errors.Internal(op, -1, "called in phase %s", c.Phase())
	}
}

// StartGroup starts a group identified by key among its siblings.
func (c *Composer) StartGroup(key int64) { c.start(key, nil, false) }

// StartMovableGroup starts a group identified by key and objectKey. When
// siblings are reordered the group is found by identity and moved together
// with its slots and nodes.
func (c *Composer) StartMovableGroup(key int64, objectKey any) { c.start(key, objectKey, false) }

// EndGroup ends the current group. Children that were not visited in this
// pass are removed.
func (c *Composer) EndGroup() { c.end() }

func (c *Composer) start(key int64, objectKey any, isNode bool) {
	c.checkComposing("core.StartGroup")
	if c.Inserting() {
		c.ed.BeginInsert(key, objectKey, isNode)
		c.groups = append(c.groups, groupFrame{inserting: true, node: isNode})
		return
	}
	found, mv := c.ed.AdvanceToGroup(key, objectKey)
	if !found {
		c.ed.BeginInsert(key, objectKey, isNode)
		c.groups = append(c.groups, groupFrame{inserting: true, node: isNode})
		return
	}
	if mv != nil {
		idx := c.nodeIndex()
		c.changes.Move(idx+mv.NodeOffset, idx, mv.Nodes)
	}
	if c.table.GroupIsNode(c.ed.Current()) != isNode {
		errors.Internal("core.StartGroup", c.ed.Current(), "group with key %d changed between node and plain group", key)
	}
	c.ed.Enter()
	c.groups = append(c.groups, groupFrame{node: isNode})
}

func (c *Composer) end() {
	if len(c.groups) == 0 {
		errors.Internal("core.EndGroup", c.ed.Current(), "end without start")
	}
	f := c.groups[len(c.groups)-1]
	if f.node && !f.nodePushed {
		errors.Internal("core.EndGroup", c.ed.Parent(), "node group ended without CreateNode or UseNode")
	}
	if !f.inserting {
		for !c.ed.AtEnd() {
			n := c.ed.RemoveGroup()
			c.changes.Remove(c.nodeIndex(), n)
		}
	}
	if f.hasRestore {
		c.locals = f.restore
	}
	c.ed.EndGroup()
	c.groups = c.groups[:len(c.groups)-1]
	if f.nodePushed {
		c.nodes = c.nodes[:len(c.nodes)-1]
		c.changes.Up()
	}
}

func (c *Composer) pushLocals(m localMap) {
	f := &c.groups[len(c.groups)-1]
	if !f.hasRestore {
		f.restore, f.hasRestore = c.locals, true
	}
	c.locals = m
}

func (c *Composer) nodeIndex() int { return c.nodes[len(c.nodes)-1].index }

// StartNode starts a node group. It must be followed by CreateNode when
// Inserting reports true and by UseNode otherwise, then by EndNode.
func (c *Composer) StartNode(key int64) { c.start(key, nil, true) }

// CreateNode creates the node of the current node group and records its
// insertion into the parent node.
func (c *Composer) CreateNode(factory func() any) any {
	f := c.nodeGroup("core.CreateNode")
	if !f.inserting {
		errors.Internal("core.CreateNode", c.ed.Parent(), "node group is not being inserted")
	}
	node := factory()
	c.ed.NextSlot()
	c.ed.SetPrevSlot(slottable.Node(node))
	c.changes.Insert(c.nodeIndex(), node)
	c.enterNode(f, node)
	return node
}

// UseNode returns the existing node of the current node group.
func (c *Composer) UseNode() any {
	f := c.nodeGroup("core.UseNode")
	node, ok := c.ed.NextSlot().Node()
	if !ok {
		errors.Internal("core.UseNode", c.ed.Parent(), "node group has no node slot")
	}
	c.enterNode(f, node)
	return node
}

// EndNode ends the current node group.
func (c *Composer) EndNode() {
	if len(c.groups) == 0 || !c.groups[len(c.groups)-1].node {
		errors.Internal("core.EndNode", c.ed.Parent(), "current group is not a node group")
	}
	c.end()
}

func (c *Composer) nodeGroup(op string) *groupFrame {
	c.checkComposing(op)
	if len(c.groups) == 0 {
		errors.Internal(op, -1, "no node group started")
	}
	f := &c.groups[len(c.groups)-1]
	if !f.node || f.nodePushed {
		errors.Internal(op, c.ed.Parent(), "not at the start of a node group")
	}
	return f
}

func (c *Composer) enterNode(f *groupFrame, node any) {
	c.nodes[len(c.nodes)-1].index++
	c.changes.Down(node)
	c.nodes = append(c.nodes, nodeFrame{node: node})
	f.nodePushed = true
}

// CompoundKey returns a key for the current position derived from the keys
// of every enclosing group. It is stable across passes and runs of one
// build, unlike table indices.
func (c *Composer) CompoundKey() int64 { return c.ed.CompoundKey() }

// CurrentNode returns the node children are currently emitted into.
func (c *Composer) CurrentNode() any { return c.nodes[len(c.nodes)-1].node }

// Set records apply(node, value) for the current node when value differs
// from the value passed on the previous pass.
func (c *Composer) Set(value any, apply func(node, value any)) {
	if !c.Changed(value) {
		return
	}
	node := c.CurrentNode()
	c.changes.Update(node, func() { apply(node, value) })
}

func (c *Composer) nextSlot() slottable.Slot {
	c.lastSlot = c.ed.NextSlot()
	return c.lastSlot
}

func (c *Composer) setSlot(s slottable.Slot) {
	if !c.lastSlot.IsEmpty() {
		c.release(c.lastSlot)
	}
	c.lastSlot = s
	c.ed.SetPrevSlot(s)
}

// Changed compares v with the value stored at the next slot using
// structural equality. When they differ it stores v and returns true.
func (c *Composer) Changed(v any) bool {
	return c.ChangedWith(v, snapshot.StructuralEqualityPolicy[any]())
}

// ChangedWith is Changed with an explicit equivalence policy.
func (c *Composer) ChangedWith(v any, policy snapshot.MutationPolicy[any]) bool {
	c.checkComposing("core.Changed")
	s := c.nextSlot()
	if old, ok := s.Value(); ok && policy.Equivalent(old, v) {
		return false
	}
	c.setSlot(slottable.Value(v))
	return true
}

// RememberedValue reads the next slot. It reports false when the slot is
// empty, as it is for every group being inserted.
func (c *Composer) RememberedValue() (any, bool) {
	c.checkComposing("core.RememberedValue")
	return c.nextSlot().Value()
}

// UpdateRememberedValue replaces the slot last read by RememberedValue.
// A replaced RememberObserver is forgotten and a new one remembered once
// the pass is applied.
func (c *Composer) UpdateRememberedValue(v any) {
	c.setSlot(slottable.Value(v))
	if o, ok := v.(RememberObserver); ok {
		c.remembered = append(c.remembered, o)
	}
}

// RememberedLambda reads the next slot as a remembered function. It
// reports false for an empty slot or one holding anything else.
func (c *Composer) RememberedLambda() (any, bool) {
	c.checkComposing("core.RememberedLambda")
	return c.nextSlot().Lambda()
}

// UpdateRememberedLambda replaces the slot last read by RememberedLambda.
func (c *Composer) UpdateRememberedLambda(fn any) {
	c.setSlot(slottable.Lambda(fn))
}

// StartRestartGroup starts a group that can be re-executed on its own.
// The returned scope is current until the matching EndRestartGroup.
func (c *Composer) StartRestartGroup(key int64) *RecomposeScope {
	c.start(key, nil, false)
	var scope *RecomposeScope
	if v, ok := c.nextSlot().Value(); ok {
		scope, _ = v.(*RecomposeScope)
	}
	if scope == nil {
		scope = newScope(c.comp)
		scope.anchor = c.table.Anchor(c.ed.Parent())
		c.setSlot(slottable.Value(scope))
	}
	scope.locals = c.locals
	c.scopes = append(c.scopes, scopeFrame{
		scope: scope,
		depth: len(c.groups),
		reads: make(map[snapshot.StateObject]struct{}),
	})
	return scope
}

// EndRestartGroup ends the current restart group and returns its scope.
func (c *Composer) EndRestartGroup() *RecomposeScope {
	if len(c.scopes) == 0 {
		errors.Internal("core.EndRestartGroup", c.ed.Parent(), "no restart group started")
	}
	f := c.scopes[len(c.scopes)-1]
	if f.depth != len(c.groups) {
		errors.Internal("core.EndRestartGroup", c.ed.Parent(), "%d groups still open in scope", len(c.groups)-f.depth)
	}
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.end()
	if f.skipped {
		c.skips++
		return f.scope
	}
	delete(c.pass, f.scope)
	f.scope.executions.Add(1)
	c.executed = append(c.executed, f.scope)
	c.comp.recordReads(f.scope, f.reads, f.derived, f.derivedDeps, f.failed)
	if f.failed {
		c.failed = append(c.failed, f.scope)
	}
	if h := c.comp.executionHook; h != nil {
		h(f.scope)
	}
	return f.scope
}

func (c *Composer) currentScope() *RecomposeScope {
	if len(c.scopes) == 0 {
		return nil
	}
	return c.scopes[len(c.scopes)-1].scope
}

// CurrentScope returns the innermost restart scope, or nil.
func (c *Composer) CurrentScope() *RecomposeScope { return c.currentScope() }

// recordRead is the read observer of the pass snapshot.
func (c *Composer) recordRead(obj snapshot.StateObject) {
	if len(c.scopes) == 0 {
		return
	}
	f := &c.scopes[len(c.scopes)-1]
	f.reads[obj] = struct{}{}
	if d, ok := obj.(snapshot.DerivedStateObject); ok {
		if f.derived == nil {
			f.derived = make(map[snapshot.DerivedStateObject]any)
			f.derivedDeps = make(map[snapshot.DerivedStateObject][]snapshot.StateObject)
		}
		f.derived[d] = d.CurrentValue(c.snap)
		f.derivedDeps[d] = d.Dependencies(c.snap)
	}
}

// SkipToGroupEnd skips the rest of the current group. Scopes inside it that
// are invalid still re-execute; everything else, slots included, is kept.
func (c *Composer) SkipToGroupEnd() {
	c.checkComposing("core.SkipToGroupEnd")
	if n := len(c.scopes); n > 0 && c.scopes[n-1].depth == len(c.groups) {
		c.scopes[n-1].skipped = true
	}
	c.recomposeToGroupEnd()
	c.ed.KeepSlots()
}

// SkipCurrentGroup skips the group at the cursor, re-executing invalid
// scopes inside it.
func (c *Composer) SkipCurrentGroup() {
	c.checkComposing("core.SkipCurrentGroup")
	if c.ed.AtEnd() {
		return
	}
	idx := c.ed.Current()
	if c.nextInvalid(idx, idx+c.table.GroupSize(idx)) == nil {
		c.nodes[len(c.nodes)-1].index += c.ed.SkipGroup()
		return
	}
	c.enterExisting(idx)
	c.recomposeToGroupEnd()
	c.ed.KeepSlots()
	c.end()
}

// recomposeToGroupEnd visits the remaining children of the current group
// (or of the table when no group is open). A child whose range holds no
// invalid scope is skipped in one step; a child anchoring an invalid scope
// re-executes; any other child is entered and searched.
func (c *Composer) recomposeToGroupEnd() {
	for !c.ed.AtEnd() {
		idx := c.ed.Current()
		end := idx + c.table.GroupSize(idx)
		scope := c.nextInvalid(idx, end)
		if scope == nil || c.cancelled {
			c.nodes[len(c.nodes)-1].index += c.ed.SkipGroup()
			continue
		}
		if c.ctx != nil && c.ctx.Err() != nil {
			c.cancelled = true
			continue
		}
		if scope.anchor.Index() == idx && scope.block != nil {
			saved := c.locals
			c.locals = scope.locals
			scope.block(c)
			c.locals = saved
			continue
		}
		if scope.anchor.Index() == idx {
			// A scope without a block never finished its first execution.
			delete(c.pass, scope)
			continue
		}
		c.enterExisting(idx)
		c.recomposeToGroupEnd()
		c.ed.KeepSlots()
		c.end()
	}
}

func (c *Composer) enterExisting(idx int) {
	isNode := c.table.GroupIsNode(idx)
	c.ed.Enter()
	c.groups = append(c.groups, groupFrame{node: isNode})
	if isNode {
		node, _ := c.ed.GroupSlot(idx, 0).Node()
		c.ed.NextSlot()
		c.enterNode(&c.groups[len(c.groups)-1], node)
	}
}

// nextInvalid returns the pending scope with the lowest anchor in
// [start, end), dropping scopes whose groups were removed.
func (c *Composer) nextInvalid(start, end int) *RecomposeScope {
	var best *RecomposeScope
	bestIdx := end
	for s := range c.pass {
		idx := s.anchor.Index()
		if !s.Valid() {
			delete(c.pass, s)
			continue
		}
		if idx >= start && idx < bestIdx {
			best, bestIdx = s, idx
		}
	}
	return best
}

// invalidateInPass marks s for re-execution within the running pass.
func (c *Composer) invalidateInPass(s *RecomposeScope) {
	if s.Valid() {
		c.pass[s] = struct{}{}
	}
}

// execute runs body as the content of the current restart scope. A panic
// other than a ComposeInternalError aborts the scope: groups it left open
// are closed keeping their remaining content, and the scope stays invalid.
func (c *Composer) execute(body func(*Composer)) {
	i := len(c.scopes) - 1
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ie, ok := r.(*errors.ComposeInternalError); ok {
			panic(ie)
		}
		c.abort(i, r)
	}()
	body(c)
}

func (c *Composer) abort(i int, r any) {
	f := &c.scopes[i]
	c.scopes = c.scopes[:i+1]
	for len(c.groups) > f.depth {
		g := c.groups[len(c.groups)-1]
		if g.node && !g.nodePushed && g.inserting {
			c.ed.AbortInsert()
			c.groups = c.groups[:len(c.groups)-1]
			continue
		}
		skipped := c.ed.SkipToGroupEnd()
		if g.node && !g.nodePushed {
			// The node was never entered; its children belong to it.
			skipped = 1
		}
		c.nodes[len(c.nodes)-1].index += skipped
		if g.hasRestore {
			c.locals = g.restore
		}
		c.ed.EndGroup()
		c.groups = c.groups[:len(c.groups)-1]
		if g.nodePushed {
			c.nodes = c.nodes[:len(c.nodes)-1]
			c.changes.Up()
		}
	}
	c.nodes[len(c.nodes)-1].index += c.ed.SkipToGroupEnd()
	f.failed = true

	err := &errors.CompositionError{
		Composition: c.comp.id,
		Scope:       f.scope.String(),
		Recovered:   r,
		StackTrace:  errors.CaptureStack(),
		Timestamp:   time.Now(),
	}
	if e, ok := r.(error); ok {
		err.Err = e
	}
	errors.ReportCompositionError(err)
	c.failures = append(c.failures, err)
}

// release handles a slot dropped from the table.
func (c *Composer) release(s slottable.Slot) {
	switch s.Kind() {
	case slottable.SlotValue:
		switch v := s.Any().(type) {
		case RememberObserver:
			c.forgotten = append(c.forgotten, v)
		case *RecomposeScope:
			c.comp.releaseScope(v)
			delete(c.pass, v)
		}
	case slottable.SlotTable:
		if sub, ok := s.Any().(*Composition); ok {
			c.disposals = append(c.disposals, sub)
		}
	}
}
