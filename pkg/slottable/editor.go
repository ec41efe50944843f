package slottable

import (
	"reflect"

	"github.com/go-drift/recompose/pkg/errors"
)

type frame struct {
	group int
	slot  int
}

// Move describes a subtree relocated by AdvanceToGroup.
type Move struct {
	// From is the group index the subtree occupied before the move.
	From int
	// NodeOffset is the number of nodes between the cursor and the subtree
	// before the move.
	NodeOffset int
	// Nodes is the node count of the moved subtree.
	Nodes int
}

// Editor is the cursor used to read and edit a Table. The cursor always sits
// between two siblings of the innermost entered group.
type Editor struct {
	table  *Table
	frames []frame
	cur    int

	// Release is called for every non-empty slot dropped from the table,
	// either by RemoveGroup or because a group ended before reading it.
	Release func(Slot)
}

// Table returns the edited table.
func (e *Editor) Table() *Table { return e.table }

// Close releases the table. Every entered group must have been ended.
func (e *Editor) Close() {
	if len(e.frames) > 0 {
		errors.Internal("slottable.Close", e.frames[len(e.frames)-1].group, "%d groups not ended", len(e.frames))
	}
	e.table.editing = false
}

// Reset moves the cursor back to the first root group.
func (e *Editor) Reset() {
	if len(e.frames) > 0 {
		errors.Internal("slottable.Reset", e.frames[len(e.frames)-1].group, "%d groups not ended", len(e.frames))
	}
	e.cur = 0
}

// Depth returns the number of entered groups.
func (e *Editor) Depth() int { return len(e.frames) }

// Current returns the cursor index.
func (e *Editor) Current() int { return e.cur }

// Parent returns the index of the innermost entered group, or -1.
func (e *Editor) Parent() int {
	if len(e.frames) == 0 {
		return -1
	}
	return e.frames[len(e.frames)-1].group
}

// ParentEnd returns the end of the innermost entered group's range.
func (e *Editor) ParentEnd() int {
	if len(e.frames) == 0 {
		return len(e.table.groups)
	}
	g := e.frames[len(e.frames)-1].group
	return g + e.table.groups[g].size
}

// CompoundKey folds the keys of every entered group, outermost first. It
// identifies the current position independently of table indices.
func (e *Editor) CompoundKey() int64 {
	var key int64
	for _, f := range e.frames {
		g := &e.table.groups[f.group]
		key = CompoundKey(key, g.key, g.objectKey)
	}
	return key
}

// AtEnd reports whether the cursor is past the last child of the parent.
func (e *Editor) AtEnd() bool { return e.cur >= e.ParentEnd() }

// Group returns the group at the cursor.
func (e *Editor) Group() GroupInfo {
	e.checkCursor("slottable.Group")
	return e.table.Group(e.cur)
}

// GroupSlot returns slot n of the group at index, or Empty.
func (e *Editor) GroupSlot(index, n int) Slot {
	g := &e.table.groups[index]
	if n >= g.slots.len {
		return Empty
	}
	return e.table.slots[g.slots.start+n]
}

// BeginInsert inserts a new group at the cursor and enters it.
func (e *Editor) BeginInsert(key int64, objectKey any, isNode bool) int {
	t := e.table
	idx := e.cur
	g := group{key: key, objectKey: objectKey, size: 1, isNode: isNode}
	if isNode {
		g.nodeCount = 1
	}
	t.groups = append(t.groups, group{})
	copy(t.groups[idx+1:], t.groups[idx:])
	t.groups[idx] = g
	for _, f := range e.frames {
		t.groups[f.group].size++
	}
	t.reindex(idx+1, len(t.groups))
	e.frames = append(e.frames, frame{group: idx})
	e.cur = idx + 1
	return idx
}

// AdvanceToGroup positions the cursor on a sibling group with the given
// identity. When the group at the cursor does not match, later siblings are
// searched and the first match is moved, with its whole subtree, to the
// cursor in one bulk move. It reports whether a match was found and returns
// the move, or nil when the group was already at the cursor.
func (e *Editor) AdvanceToGroup(key int64, objectKey any) (bool, *Move) {
	t := e.table
	end := e.ParentEnd()
	offset := 0
	for i := e.cur; i < end; i += t.groups[i].size {
		g := &t.groups[i]
		if g.key != key || !objectKeysEqual(g.objectKey, objectKey) {
			offset += g.nodeCount
			continue
		}
		if i == e.cur {
			return true, nil
		}
		mv := &Move{From: i, NodeOffset: offset, Nodes: g.nodeCount}
		t.moveRange(i, g.size, e.cur)
		return true, mv
	}
	return false, nil
}

// Enter enters the group at the cursor.
func (e *Editor) Enter() {
	e.checkCursor("slottable.Enter")
	e.frames = append(e.frames, frame{group: e.cur})
	e.cur++
}

// SkipGroup moves the cursor past the group at the cursor and returns its
// node count.
func (e *Editor) SkipGroup() int {
	e.checkCursor("slottable.SkipGroup")
	g := &e.table.groups[e.cur]
	e.cur += g.size
	return g.nodeCount
}

// SkipToGroupEnd moves the cursor past the remaining children of the entered
// group, keeping its unread slots. It returns the node count skipped.
func (e *Editor) SkipToGroupEnd() int {
	if len(e.frames) == 0 {
		errors.Internal("slottable.SkipToGroupEnd", e.cur, "no group entered")
	}
	end := e.ParentEnd()
	nodes := 0
	for e.cur < end {
		nodes += e.SkipGroup()
	}
	e.KeepSlots()
	return nodes
}

// KeepSlots marks every slot of the entered group as read so EndGroup keeps
// them.
func (e *Editor) KeepSlots() {
	f := &e.frames[len(e.frames)-1]
	f.slot = e.table.groups[f.group].slots.len
}

// RemoveGroup deletes the group at the cursor and its subtree, releasing
// every slot first. It returns the node count removed.
func (e *Editor) RemoveGroup() int {
	e.checkCursor("slottable.RemoveGroup")
	t := e.table
	idx := e.cur
	size := t.groups[idx].size
	nodes := t.groups[idx].nodeCount
	for i := idx; i < idx+size; i++ {
		g := &t.groups[i]
		e.release(t.slots[g.slots.start : g.slots.start+g.slots.len])
		t.releaseSlots(g.slots)
		if g.anchor != nil {
			g.anchor.set(-1)
		}
	}
	t.groups = append(t.groups[:idx], t.groups[idx+size:]...)
	for _, f := range e.frames {
		t.groups[f.group].size -= size
	}
	t.reindex(idx, len(t.groups))
	return nodes
}

// AbortInsert leaves and deletes the entered group. It is only valid for a
// group that has no children yet, such as a node group whose factory failed.
func (e *Editor) AbortInsert() {
	if len(e.frames) == 0 {
		errors.Internal("slottable.AbortInsert", e.cur, "no group entered")
	}
	f := e.frames[len(e.frames)-1]
	if size := e.table.groups[f.group].size; size != 1 {
		errors.Internal("slottable.AbortInsert", f.group, "group has %d children", size-1)
	}
	e.frames = e.frames[:len(e.frames)-1]
	e.cur = f.group
	e.RemoveGroup()
}

// EndGroup leaves the entered group. Every child must have been visited,
// skipped or removed; slots not read since Enter are released.
func (e *Editor) EndGroup() {
	if len(e.frames) == 0 {
		errors.Internal("slottable.EndGroup", e.cur, "end without begin")
	}
	t := e.table
	f := e.frames[len(e.frames)-1]
	g := &t.groups[f.group]
	if end := f.group + g.size; e.cur != end {
		errors.Internal("slottable.EndGroup", f.group, "cursor at %d, group ends at %d", e.cur, end)
	}
	if f.slot < g.slots.len {
		e.release(t.slots[g.slots.start+f.slot : g.slots.start+g.slots.len])
		clear(t.slots[g.slots.start+f.slot : g.slots.start+g.slots.len])
		g.slots.len = f.slot
	}
	g.nodeCount = t.childNodeCount(f.group)
	e.frames = e.frames[:len(e.frames)-1]
}

// NextSlot returns the next slot of the entered group and advances the slot
// cursor. Reading past the group's slots extends it with an empty slot.
func (e *Editor) NextSlot() Slot {
	if len(e.frames) == 0 {
		errors.Internal("slottable.NextSlot", e.cur, "no group entered")
	}
	t := e.table
	f := &e.frames[len(e.frames)-1]
	g := &t.groups[f.group]
	if f.slot >= g.slots.len {
		t.growSlots(g, f.slot+1)
		g.slots.len = f.slot + 1
		t.slots[g.slots.start+f.slot] = Empty
	}
	s := t.slots[g.slots.start+f.slot]
	f.slot++
	return s
}

// SetPrevSlot replaces the slot last returned by NextSlot.
func (e *Editor) SetPrevSlot(s Slot) {
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].slot == 0 {
		errors.Internal("slottable.SetPrevSlot", e.cur, "no slot read")
	}
	t := e.table
	f := e.frames[len(e.frames)-1]
	g := &t.groups[f.group]
	t.slots[g.slots.start+f.slot-1] = s
}

// SlotIndex returns the slot cursor of the entered group.
func (e *Editor) SlotIndex() int {
	if len(e.frames) == 0 {
		return 0
	}
	return e.frames[len(e.frames)-1].slot
}

func (e *Editor) release(slots []Slot) {
	if e.Release == nil {
		return
	}
	for _, s := range slots {
		if !s.IsEmpty() {
			e.Release(s)
		}
	}
}

func (e *Editor) checkCursor(op string) {
	if e.cur >= e.ParentEnd() {
		errors.Internal(op, e.cur, "cursor past the end of group %d", e.Parent())
	}
}

// moveRange relocates the groups [from, from+size) to index to, shifting
// the groups in [to, from) after them. to must be before from.
func (t *Table) moveRange(from, size, to int) {
	moved := make([]group, size)
	copy(moved, t.groups[from:from+size])
	copy(t.groups[to+size:from+size], t.groups[to:from])
	copy(t.groups[to:], moved)
	t.reindex(to, from+size)
}

func objectKeysEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
