package snapshot

import (
	"fmt"

	"github.com/go-drift/recompose/pkg/errors"
)

type stateRecord[T any] struct {
	RecordBase
	value T
}

func (r *stateRecord[T]) Create() StateRecord { return &stateRecord[T]{} }

func (r *stateRecord[T]) Assign(from StateRecord) {
	r.value = from.(*stateRecord[T]).value
}

// MutableState is an observable memory cell holding a value of type T. Every
// snapshot sees exactly one of its records.
type MutableState[T any] struct {
	StateObjectBase
	coord  *Coordinator
	policy MutationPolicy[T]
}

// NewMutableState creates a state object whose initial value is visible to
// every snapshot of c. A nil policy means StructuralEqualityPolicy.
func NewMutableState[T any](c *Coordinator, initial T, policy MutationPolicy[T]) *MutableState[T] {
	if policy == nil {
		policy = StructuralEqualityPolicy[T]()
	}
	s := &MutableState[T]{coord: c, policy: policy}
	s.init(&stateRecord[T]{RecordBase: RecordBase{id: preexistingID}, value: initial}, "")
	return s
}

// MutableStateOf creates a state object with the structural equality policy.
func MutableStateOf[T any](c *Coordinator, initial T) *MutableState[T] {
	return NewMutableState(c, initial, nil)
}

// Named sets the debug label used in conflict errors and dumps.
func (s *MutableState[T]) Named(label string) *MutableState[T] {
	s.label = label
	return s
}

// Policy returns the mutation policy of the state.
func (s *MutableState[T]) Policy() MutationPolicy[T] { return s.policy }

// Read returns the value visible to snap and reports the read to snap's
// read observer.
func (s *MutableState[T]) Read(snap Snapshot) T {
	return readRecord(s, snap, func(r *stateRecord[T]) T { return r.value })
}

// Peek returns the value visible to snap without notifying observers.
func (s *MutableState[T]) Peek(snap Snapshot) T {
	return peekRecord(s, snap, func(r *stateRecord[T]) T { return r.value })
}

// Write stores v in snap. It fails with errors.ErrIllegalWrite when snap is
// read-only and with errors.ErrSnapshotClosed when snap is no longer open.
// Writing a value equivalent to the visible one is a no-op.
func (s *MutableState[T]) Write(snap Snapshot, v T) error {
	target, err := WriteTo(snap)
	if err != nil {
		return err
	}
	view := Snapshot(target)
	if target.global {
		view = s.coord.Global()
	} else if st := target.State(); st != StateOpen {
		return fmt.Errorf("write to snapshot %d (%s): %w", target.id, st, errors.ErrSnapshotClosed)
	}
	if s.policy.Equivalent(s.Peek(view), v) {
		return nil
	}
	target.write(s, func(r StateRecord) {
		r.(*stateRecord[T]).value = v
	})
	return nil
}

// Value reads the state in the global snapshot.
func (s *MutableState[T]) Value() T {
	return s.Read(s.coord.Global())
}

// Set writes v in the global snapshot. The change becomes visible to new
// snapshots immediately and is reported to apply observers on the next
// SendApplyNotifications.
func (s *MutableState[T]) Set(v T) {
	// Global writes cannot fail.
	_ = s.Write(s.coord.Global(), v)
}

// Update applies fn to the value visible to snap and writes the result.
func (s *MutableState[T]) Update(snap Snapshot, fn func(T) T) error {
	return s.Write(snap, fn(s.Peek(snap)))
}

// MergeRecords implements StateObject using the state's policy.
func (s *MutableState[T]) MergeRecords(previous, current, applied StateRecord) StateRecord {
	p := previous.(*stateRecord[T]).value
	c := current.(*stateRecord[T]).value
	a := applied.(*stateRecord[T]).value
	if s.policy.Equivalent(c, a) {
		return current
	}
	merged, ok := s.policy.Merge(p, c, a)
	if !ok {
		return nil
	}
	return &stateRecord[T]{value: merged}
}

func (s *MutableState[T]) String() string {
	return fmt.Sprintf("MutableState(%s)", s.Label())
}
