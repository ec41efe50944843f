package testing

import (
	"fmt"
	"slices"
)

// MoveRange moves count items of list starting at from so they start at
// to, with both indices taken before the move. It returns the modified
// list, which shares list's backing array.
func MoveRange[T any](list []T, from, to, count int) []T {
	if count <= 0 || from == to {
		return list
	}
	moved := slices.Clone(list[from : from+count])
	list = slices.Delete(list, from, from+count)
	dest := to
	if from < to {
		dest = to - count
	}
	return slices.Insert(list, dest, moved...)
}

// ListOp is one operation on a flat list, in applier terms.
type ListOp struct {
	Kind  string // "insert", "remove" or "move"
	Index int
	From  int
	To    int
	Count int
	Item  string
}

func (o ListOp) String() string {
	switch o.Kind {
	case "insert":
		return fmt.Sprintf("insert %d %s", o.Index, o.Item)
	case "remove":
		return fmt.Sprintf("remove %d %d", o.Index, o.Count)
	case "move":
		return fmt.Sprintf("move %d %d %d", o.From, o.To, o.Count)
	default:
		return o.Kind
	}
}

// Replay applies ops to a copy of list and returns the result.
func Replay(list []string, ops []ListOp) ([]string, error) {
	out := slices.Clone(list)
	for i, op := range ops {
		switch op.Kind {
		case "insert":
			if op.Index < 0 || op.Index > len(out) {
				return nil, fmt.Errorf("op %d %v: index out of range [0,%d]", i, op, len(out))
			}
			out = slices.Insert(out, op.Index, op.Item)
		case "remove":
			if op.Index < 0 || op.Index+op.Count > len(out) {
				return nil, fmt.Errorf("op %d %v: range out of bounds for %d items", i, op, len(out))
			}
			out = slices.Delete(out, op.Index, op.Index+op.Count)
		case "move":
			if op.From < 0 || op.From+op.Count > len(out) || op.To < 0 || op.To > len(out) {
				return nil, fmt.Errorf("op %d %v: range out of bounds for %d items", i, op, len(out))
			}
			out = MoveRange(out, op.From, op.To, op.Count)
		default:
			return nil, fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}
	return out, nil
}

// ListOps converts the mutation log of a NodeApplier into list operations
// on the children of the node named parent. Down and up entries and
// operations on other nodes are dropped.
func ListOps(log []string, parent string) []ListOp {
	var ops []ListOp
	for _, entry := range log {
		var kind, node string
		if _, err := fmt.Sscanf(entry, "%s %s", &kind, &node); err != nil || node != parent {
			continue
		}
		var op ListOp
		op.Kind = kind
		switch kind {
		case "insert":
			fmt.Sscanf(entry, "insert %s %d %s", &node, &op.Index, &op.Item)
		case "remove":
			fmt.Sscanf(entry, "remove %s %d %d", &node, &op.Index, &op.Count)
		case "move":
			fmt.Sscanf(entry, "move %s %d %d %d", &node, &op.From, &op.To, &op.Count)
		default:
			continue
		}
		ops = append(ops, op)
	}
	return ops
}
