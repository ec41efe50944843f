package snapshot

import (
	"fmt"
	"sync"

	"github.com/go-drift/recompose/pkg/errors"
)

// DerivedStateObject is implemented by state objects whose value is computed
// from other state objects. Observers that track reads use it to find the
// objects a derived value depends on and to decide whether a change of those
// objects changed the derived value.
type DerivedStateObject interface {
	StateObject
	// Dependencies returns the state objects the value visible to snap was
	// computed from. Nested derived objects are expanded.
	Dependencies(snap Snapshot) []StateObject
	// CurrentValue returns the value visible to snap without reporting a read.
	CurrentValue(snap Snapshot) any
	// EquivalentValues compares two values returned by CurrentValue.
	EquivalentValues(a, b any) bool
}

type dependency struct {
	obj StateObject
	rec StateRecord
	id  ID
}

type derivedResult[T any] struct {
	value T
	deps  []dependency
	// snapID and writes identify the mutable snapshot the result was
	// computed in, for dependencies whose records it owns.
	snapID ID
	writes int64
}

const derivedCacheSize = 4

// DerivedState caches the result of a calculation over other state objects.
// A read revalidates the cached result against the reading snapshot and
// recomputes it when any dependency's visible record changed.
type DerivedState[T any] struct {
	StateObjectBase
	calc   func(Snapshot) T
	policy MutationPolicy[T]

	mu    sync.Mutex
	cache []*derivedResult[T]
}

// DerivedStateOf creates a derived state. calc must only read through the
// snapshot it is given; writes from it fail with errors.ErrIllegalWrite.
// A nil policy means StructuralEqualityPolicy.
func DerivedStateOf[T any](calc func(Snapshot) T, policy MutationPolicy[T]) *DerivedState[T] {
	if policy == nil {
		policy = StructuralEqualityPolicy[T]()
	}
	d := &DerivedState[T]{calc: calc, policy: policy}
	d.init(&stateRecord[struct{}]{RecordBase: RecordBase{id: preexistingID}}, "")
	return d
}

// Named sets the debug label.
func (d *DerivedState[T]) Named(label string) *DerivedState[T] {
	d.label = label
	return d
}

// Read returns the derived value visible to snap and reports the read of the
// derived object to snap's read observer.
func (d *DerivedState[T]) Read(snap Snapshot) T {
	res := d.result(unwrapObserving(snap))
	snap.notifyRead(d)
	return res.value
}

// Dependencies implements DerivedStateObject.
func (d *DerivedState[T]) Dependencies(snap Snapshot) []StateObject {
	res := d.result(unwrapObserving(snap))
	out := make([]StateObject, len(res.deps))
	for i, dep := range res.deps {
		out[i] = dep.obj
	}
	return out
}

// CurrentValue implements DerivedStateObject.
func (d *DerivedState[T]) CurrentValue(snap Snapshot) any {
	return d.result(unwrapObserving(snap)).value
}

// EquivalentValues implements DerivedStateObject.
func (d *DerivedState[T]) EquivalentValues(a, b any) bool {
	av, aok := a.(T)
	bv, bok := b.(T)
	if !aok || !bok {
		return false
	}
	return d.policy.Equivalent(av, bv)
}

// MergeRecords implements StateObject. Derived state is never written.
func (d *DerivedState[T]) MergeRecords(_, current, _ StateRecord) StateRecord {
	return current
}

func (d *DerivedState[T]) String() string {
	return fmt.Sprintf("DerivedState(%s)", d.Label())
}

func (d *DerivedState[T]) result(snap Snapshot) *derivedResult[T] {
	d.mu.Lock()
	for i, res := range d.cache {
		if res.validIn(snap) {
			if i > 0 {
				copy(d.cache[1:i+1], d.cache[:i])
				d.cache[0] = res
			}
			d.mu.Unlock()
			return res
		}
	}
	d.mu.Unlock()

	res := d.compute(snap)

	d.mu.Lock()
	d.cache = append([]*derivedResult[T]{res}, d.cache...)
	if len(d.cache) > derivedCacheSize {
		d.cache = d.cache[:derivedCacheSize]
	}
	d.mu.Unlock()
	return res
}

func (d *DerivedState[T]) compute(snap Snapshot) *derivedResult[T] {
	seen := make(map[StateObject]struct{})
	var deps []StateObject
	add := func(obj StateObject) {
		if _, ok := seen[obj]; ok {
			return
		}
		seen[obj] = struct{}{}
		deps = append(deps, obj)
	}
	view := &observingSnapshot{Snapshot: snap, observe: func(obj StateObject) {
		if inner, ok := obj.(DerivedStateObject); ok {
			for _, dep := range inner.Dependencies(snap) {
				add(dep)
			}
			return
		}
		add(obj)
	}}

	res := &derivedResult[T]{value: d.calc(view), snapID: snap.ID()}
	if m, ok := snap.(*MutableSnapshot); ok {
		res.writes = m.writes.Load()
	}
	invalid := snap.invalidSet()
	for _, obj := range deps {
		rec, rid := readableID(obj, snap.ID(), invalid)
		if rec == nil {
			continue
		}
		res.deps = append(res.deps, dependency{obj: obj, rec: rec, id: rid})
	}
	return res
}

// validIn reports whether every dependency still resolves to the same record
// in snap. Records owned by a mutable snapshot are written in place, so those
// additionally require that the snapshot has not written since.
func (r *derivedResult[T]) validIn(snap Snapshot) bool {
	id, invalid := snap.ID(), snap.invalidSet()
	for _, dep := range r.deps {
		rec, rid := readableID(dep.obj, id, invalid)
		if rec != dep.rec || rid != dep.id {
			return false
		}
		if dep.id == id {
			m, ok := snap.(*MutableSnapshot)
			if !ok || r.snapID != id || r.writes != m.writes.Load() {
				return false
			}
		}
	}
	return true
}

// observingSnapshot forwards to a snapshot while capturing reads. Writes
// through it are rejected.
type observingSnapshot struct {
	Snapshot
	observe func(StateObject)
}

func (s *observingSnapshot) ReadOnly() bool { return true }

func (s *observingSnapshot) notifyRead(obj StateObject) { s.observe(obj) }

func (s *observingSnapshot) mutableTarget() (*MutableSnapshot, error) {
	return nil, fmt.Errorf("write during derived state calculation: %w", errors.ErrIllegalWrite)
}

func unwrapObserving(snap Snapshot) Snapshot {
	for {
		o, ok := snap.(*observingSnapshot)
		if !ok {
			return snap
		}
		snap = o.Snapshot
	}
}
