package slottable

import "fmt"

// Kind tags the content of a Slot.
type Kind uint8

const (
	// SlotEmpty is an unused slot. Slots read past the end of a group start
	// out empty.
	SlotEmpty Kind = iota
	// SlotValue holds a remembered value.
	SlotValue
	// SlotLambda holds a remembered function.
	SlotLambda
	// SlotNode holds a reference to a node of the applied tree.
	SlotNode
	// SlotTable marks a nested table owned by a subcomposition.
	SlotTable
)

func (k Kind) String() string {
	switch k {
	case SlotEmpty:
		return "empty"
	case SlotValue:
		return "value"
	case SlotLambda:
		return "lambda"
	case SlotNode:
		return "node"
	case SlotTable:
		return "table"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// TableOwner is stored in SlotTable slots. It is usually a subcomposition.
type TableOwner interface {
	Table() *Table
}

// Slot is a tagged union holding one remembered item of a group.
type Slot struct {
	kind Kind
	v    any
}

// Empty is the zero Slot.
var Empty = Slot{}

// Value returns a slot holding a remembered value.
func Value(v any) Slot { return Slot{kind: SlotValue, v: v} }

// Lambda returns a slot holding a remembered function. fn must be a func.
func Lambda(fn any) Slot { return Slot{kind: SlotLambda, v: fn} }

// Node returns a slot holding a node reference.
func Node(n any) Slot { return Slot{kind: SlotNode, v: n} }

// TableMarker returns a slot marking a nested table.
func TableMarker(owner TableOwner) Slot { return Slot{kind: SlotTable, v: owner} }

// Kind returns the tag of the slot.
func (s Slot) Kind() Kind { return s.kind }

// IsEmpty reports whether the slot is unused.
func (s Slot) IsEmpty() bool { return s.kind == SlotEmpty }

// Any returns the content regardless of kind.
func (s Slot) Any() any { return s.v }

// Value returns the remembered value and whether the slot holds one.
func (s Slot) Value() (any, bool) {
	if s.kind != SlotValue {
		return nil, false
	}
	return s.v, true
}

// Lambda returns the remembered function and whether the slot holds one.
func (s Slot) Lambda() (any, bool) {
	if s.kind != SlotLambda {
		return nil, false
	}
	return s.v, true
}

// Node returns the node reference and whether the slot holds one.
func (s Slot) Node() (any, bool) {
	if s.kind != SlotNode {
		return nil, false
	}
	return s.v, true
}

// Owner returns the nested table owner and whether the slot holds one.
func (s Slot) Owner() (TableOwner, bool) {
	if s.kind != SlotTable {
		return nil, false
	}
	owner, ok := s.v.(TableOwner)
	return owner, ok
}

func (s Slot) String() string {
	switch s.kind {
	case SlotEmpty:
		return "<empty>"
	case SlotLambda:
		return fmt.Sprintf("lambda(%T)", s.v)
	case SlotTable:
		return "table"
	default:
		return fmt.Sprintf("%s(%v)", s.kind, s.v)
	}
}
