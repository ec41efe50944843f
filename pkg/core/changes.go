package core

import (
	"fmt"
	"strings"
)

// OpKind identifies a recorded tree change.
type OpKind int

const (
	OpDown OpKind = iota
	OpUp
	OpInsert
	OpRemove
	OpMove
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpDown:
		return "down"
	case OpUp:
		return "up"
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpMove:
		return "move"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one entry of a change script.
type Op struct {
	Kind  OpKind
	Index int
	From  int
	To    int
	Count int
	Node  any
	apply func()
}

func (o Op) String() string {
	switch o.Kind {
	case OpDown:
		return fmt.Sprintf("down %v", o.Node)
	case OpInsert:
		return fmt.Sprintf("insert %d %v", o.Index, o.Node)
	case OpRemove:
		return fmt.Sprintf("remove %d %d", o.Index, o.Count)
	case OpMove:
		return fmt.Sprintf("move %d %d %d", o.From, o.To, o.Count)
	case OpUpdate:
		return fmt.Sprintf("update %v", o.Node)
	default:
		return o.Kind.String()
	}
}

// Changelist is the ordered script of tree changes recorded while
// composing. Descents into nodes are recorded lazily: a Down that is
// followed by its Up without any change in between is dropped, so walking
// an unchanged subtree costs no applier calls.
type Changelist struct {
	ops     []Op
	pending []any
}

// Len returns the number of recorded ops.
func (l *Changelist) Len() int { return len(l.ops) }

// Ops returns a copy of the recorded ops.
func (l *Changelist) Ops() []Op {
	out := make([]Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// Reset drops every recorded op.
func (l *Changelist) Reset() {
	l.ops = l.ops[:0]
	l.pending = l.pending[:0]
}

// Down records a descent into node.
func (l *Changelist) Down(node any) {
	l.pending = append(l.pending, node)
}

// Up records the ascent matching the last Down.
func (l *Changelist) Up() {
	if n := len(l.pending); n > 0 {
		l.pending = l.pending[:n-1]
		return
	}
	l.ops = append(l.ops, Op{Kind: OpUp})
}

// Insert records the insertion of node at index.
func (l *Changelist) Insert(index int, node any) {
	l.realize()
	l.ops = append(l.ops, Op{Kind: OpInsert, Index: index, Node: node})
}

// Remove records the removal of count nodes at index.
func (l *Changelist) Remove(index, count int) {
	if count == 0 {
		return
	}
	l.realize()
	l.ops = append(l.ops, Op{Kind: OpRemove, Index: index, Count: count})
}

// Move records a move of count nodes from one index to another.
func (l *Changelist) Move(from, to, count int) {
	if count == 0 || from == to {
		return
	}
	l.realize()
	l.ops = append(l.ops, Op{Kind: OpMove, From: from, To: to, Count: count})
}

// Update records fn to be run against node. Updates do not depend on the
// applier's current node.
func (l *Changelist) Update(node any, fn func()) {
	l.ops = append(l.ops, Op{Kind: OpUpdate, Node: node, apply: fn})
}

func (l *Changelist) realize() {
	for _, n := range l.pending {
		l.ops = append(l.ops, Op{Kind: OpDown, Node: n})
	}
	l.pending = l.pending[:0]
}

// ApplyTo replays the script against a. It returns the number of applier
// calls made.
func (l *Changelist) ApplyTo(a Applier) int {
	calls := 0
	for _, op := range l.ops {
		switch op.Kind {
		case OpDown:
			a.Down(op.Node)
		case OpUp:
			a.Up()
		case OpInsert:
			a.Insert(op.Index, op.Node)
		case OpRemove:
			a.Remove(op.Index, op.Count)
		case OpMove:
			a.Move(op.From, op.To, op.Count)
		case OpUpdate:
			op.apply()
			continue
		}
		calls++
	}
	return calls
}

// String renders the script one op per line.
func (l *Changelist) String() string {
	var b strings.Builder
	for _, op := range l.ops {
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	return b.String()
}
