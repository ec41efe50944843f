package slottable

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/go-drift/recompose/pkg/errors"
)

// group is one record of the flattened group tree. Groups are stored in
// preorder: a group at index i owns the groups in [i+1, i+size).
type group struct {
	key       int64
	objectKey any
	size      int
	// nodeCount is the number of nodes the group contributes to its nearest
	// node ancestor: 1 for a node group, otherwise the sum over its children.
	nodeCount int
	isNode    bool
	slots     slotRange
	anchor    *Anchor
}

// slotRange addresses a group's slots in the slot arena.
type slotRange struct {
	start, len, cap int
}

// Anchor tracks the index of a group across structural edits. An anchor of
// a removed group becomes invalid. Only the table's editor moves an anchor,
// but Index and Valid may be called from any goroutine.
type Anchor struct {
	index atomic.Int64
}

func newAnchor(index int) *Anchor {
	a := &Anchor{}
	a.index.Store(int64(index))
	return a
}

func (a *Anchor) set(index int) { a.index.Store(int64(index)) }

// Index returns the current index of the anchored group, or -1.
func (a *Anchor) Index() int { return int(a.index.Load()) }

// Valid reports whether the anchored group is still in the table.
func (a *Anchor) Valid() bool { return a != nil && a.index.Load() >= 0 }

// Table is a flattened group tree with an arena of slots. Groups are kept in
// a preorder slice so a subtree is a contiguous index range; moving a subtree
// relocates a range of group records while their slots stay in place in the
// arena. Released slot ranges are kept in a free list and reused.
//
// A Table has a single owner at a time: structural edits go through the
// Editor returned by Edit.
type Table struct {
	groups  []group
	slots   []Slot
	free    []slotRange
	editing bool
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Size returns the number of groups in the table.
func (t *Table) Size() int { return len(t.groups) }

// SlotCount returns the number of slots in use.
func (t *Table) SlotCount() int {
	n := 0
	for i := range t.groups {
		n += t.groups[i].slots.len
	}
	return n
}

// ArenaSize returns the capacity of the slot arena, including free ranges.
func (t *Table) ArenaSize() int { return len(t.slots) }

// Editing reports whether an Editor is open on the table.
func (t *Table) Editing() bool { return t.editing }

// Edit opens the single editor of the table.
func (t *Table) Edit() *Editor {
	if t.editing {
		errors.Internal("slottable.Edit", -1, "table already has an open editor")
	}
	t.editing = true
	return &Editor{table: t}
}

// Anchor returns the anchor of the group at index, creating it if needed.
func (t *Table) Anchor(index int) *Anchor {
	if index < 0 || index >= len(t.groups) {
		errors.Internal("slottable.Anchor", index, "index out of range [0, %d)", len(t.groups))
	}
	g := &t.groups[index]
	if g.anchor == nil {
		g.anchor = newAnchor(index)
	}
	return g.anchor
}

// GroupInfo is a read-only view of one group.
type GroupInfo struct {
	Index     int
	Depth     int
	Key       int64
	ObjectKey any
	Size      int
	NodeCount int
	IsNode    bool
	Slots     []Slot
}

// Group returns a view of the group at index.
func (t *Table) Group(index int) GroupInfo {
	g := &t.groups[index]
	return GroupInfo{
		Index:     index,
		Key:       g.key,
		ObjectKey: g.objectKey,
		Size:      g.size,
		NodeCount: g.nodeCount,
		IsNode:    g.isNode,
		Slots:     t.groupSlots(g),
	}
}

// GroupSize returns the size of the group at index, counting itself.
func (t *Table) GroupSize(index int) int { return t.groups[index].size }

// GroupIsNode reports whether the group at index is a node group.
func (t *Table) GroupIsNode(index int) bool { return t.groups[index].isNode }

// Walk calls fn for every group in preorder with its depth.
func (t *Table) Walk(fn func(GroupInfo)) {
	var ends []int
	for i := range t.groups {
		for len(ends) > 0 && ends[len(ends)-1] <= i {
			ends = ends[:len(ends)-1]
		}
		info := t.Group(i)
		info.Depth = len(ends)
		fn(info)
		ends = append(ends, i+t.groups[i].size)
	}
}

// Dump renders the table as an indented listing for debugging.
func (t *Table) Dump() string {
	var b strings.Builder
	t.Walk(func(g GroupInfo) {
		b.WriteString(strings.Repeat("  ", g.Depth))
		fmt.Fprintf(&b, "#%d key=%d", g.Index, g.Key)
		if g.ObjectKey != nil {
			fmt.Fprintf(&b, " obj=%v", g.ObjectKey)
		}
		if g.IsNode {
			b.WriteString(" node")
		}
		fmt.Fprintf(&b, " size=%d nodes=%d", g.Size, g.NodeCount)
		if len(g.Slots) > 0 {
			parts := make([]string, len(g.Slots))
			for i, s := range g.Slots {
				parts[i] = s.String()
			}
			fmt.Fprintf(&b, " slots=[%s]", strings.Join(parts, ", "))
		}
		b.WriteByte('\n')
	})
	return b.String()
}

// Verify checks the structural invariants of the table: group ranges nest,
// node counts add up, anchors point at their groups and slot ranges do not
// overlap.
func (t *Table) Verify() error {
	if err := t.verifyRange(0, len(t.groups)); err != nil {
		return err
	}
	used := make(map[int]int)
	for i := range t.groups {
		g := &t.groups[i]
		if g.anchor != nil && g.anchor.Index() != i {
			return verifyErr(i, "anchor points at %d", g.anchor.Index())
		}
		if g.slots.len > g.slots.cap {
			return verifyErr(i, "slot length %d exceeds capacity %d", g.slots.len, g.slots.cap)
		}
		for s := g.slots.start; s < g.slots.start+g.slots.cap; s++ {
			if owner, ok := used[s]; ok {
				return verifyErr(i, "slot %d also owned by group %d", s, owner)
			}
			used[s] = i
		}
	}
	for _, r := range t.free {
		for s := r.start; s < r.start+r.cap; s++ {
			if owner, ok := used[s]; ok {
				return verifyErr(owner, "slot %d is both free and in use", s)
			}
		}
	}
	return nil
}

func (t *Table) verifyRange(start, end int) error {
	for i := start; i < end; {
		g := &t.groups[i]
		if g.size < 1 || i+g.size > end {
			return verifyErr(i, "size %d overflows parent end %d", g.size, end)
		}
		if err := t.verifyRange(i+1, i+g.size); err != nil {
			return err
		}
		if want := t.childNodeCount(i); g.nodeCount != want {
			return verifyErr(i, "node count %d, want %d", g.nodeCount, want)
		}
		i += g.size
	}
	return nil
}

// childNodeCount computes the node count of the group at index from its
// direct children.
func (t *Table) childNodeCount(index int) int {
	g := &t.groups[index]
	if g.isNode {
		return 1
	}
	n := 0
	end := index + g.size
	for c := index + 1; c < end; c += t.groups[c].size {
		n += t.groups[c].nodeCount
	}
	return n
}

func verifyErr(index int, format string, args ...any) error {
	return &errors.ComposeInternalError{Op: "slottable.Verify", Group: index, Detail: fmt.Sprintf(format, args...)}
}

func (t *Table) groupSlots(g *group) []Slot {
	if g.slots.len == 0 {
		return nil
	}
	out := make([]Slot, g.slots.len)
	copy(out, t.slots[g.slots.start:g.slots.start+g.slots.len])
	return out
}

// allocSlots returns a free range of at least n slots.
func (t *Table) allocSlots(n int) slotRange {
	for i, r := range t.free {
		if r.cap < n {
			continue
		}
		t.free = append(t.free[:i], t.free[i+1:]...)
		if r.cap > n {
			t.free = append(t.free, slotRange{start: r.start + n, cap: r.cap - n})
		}
		return slotRange{start: r.start, cap: n}
	}
	start := len(t.slots)
	t.slots = append(t.slots, make([]Slot, n)...)
	return slotRange{start: start, cap: n}
}

// releaseSlots clears a range and returns it to the free list.
func (t *Table) releaseSlots(r slotRange) {
	if r.cap == 0 {
		return
	}
	clear(t.slots[r.start : r.start+r.cap])
	t.free = append(t.free, slotRange{start: r.start, cap: r.cap})
}

// growSlots makes room for n slots in g, moving its slots to a larger range
// when needed.
func (t *Table) growSlots(g *group, n int) {
	if n <= g.slots.cap {
		return
	}
	newCap := max(4, 2*g.slots.cap, n)
	r := t.allocSlots(newCap)
	copy(t.slots[r.start:], t.slots[g.slots.start:g.slots.start+g.slots.len])
	t.releaseSlots(g.slots)
	r.len = g.slots.len
	g.slots = r
}

// reindex refreshes the anchors of groups in [from, to).
func (t *Table) reindex(from, to int) {
	for i := from; i < to && i < len(t.groups); i++ {
		if a := t.groups[i].anchor; a != nil {
			a.set(i)
		}
	}
}
