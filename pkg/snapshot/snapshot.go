package snapshot

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-drift/recompose/pkg/errors"
)

// State is the lifecycle state of a snapshot.
type State int32

const (
	// StateOpen snapshots accept reads (and writes when mutable).
	StateOpen State = iota
	// StateApplying is held while a mutable snapshot runs its conflict check.
	StateApplying
	// StateApplied is terminal: the writes were merged into the parent.
	StateApplied
	// StateDisposed is terminal: the snapshot was discarded.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateApplying:
		return "applying"
	case StateApplied:
		return "applied"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Snapshot is an isolated, versioned view over every state object of a
// Coordinator.
type Snapshot interface {
	// ID returns the version id the snapshot reads at.
	ID() ID
	// ReadOnly reports whether writes through the snapshot are rejected.
	ReadOnly() bool
	// State returns the lifecycle state.
	State() State
	// Coordinator returns the owning coordinator.
	Coordinator() *Coordinator
	// TakeNestedSnapshot opens a read-only child seeing what this snapshot sees.
	TakeNestedSnapshot(readObserver func(StateObject)) (Snapshot, error)
	// Dispose discards the snapshot. It always succeeds and is idempotent.
	Dispose()

	invalidSet() IDSet
	notifyRead(obj StateObject)
	mutableTarget() (*MutableSnapshot, error)
}

// base holds the fields shared by every snapshot kind. id and invalid only
// change under the coordinator lock.
type base struct {
	coord        *Coordinator
	id           ID
	invalid      IDSet
	state        State
	readObserver func(StateObject)
	pin          ID
	pinned       bool
}

func (b *base) ID() ID                    { return b.id }
func (b *base) Coordinator() *Coordinator { return b.coord }
func (b *base) invalidSet() IDSet         { return b.invalid }

func (b *base) State() State {
	b.coord.mu.Lock()
	defer b.coord.mu.Unlock()
	return b.state
}

func (b *base) notifyRead(obj StateObject) {
	if b.readObserver != nil {
		b.readObserver(obj)
	}
}

// mergeObservers returns an observer calling child then parent.
func mergeObservers(child, parent func(StateObject)) func(StateObject) {
	switch {
	case child == nil:
		return parent
	case parent == nil:
		return child
	default:
		return func(obj StateObject) {
			child(obj)
			parent(obj)
		}
	}
}

// ReadonlySnapshot is a snapshot that rejects writes with ErrIllegalWrite.
type ReadonlySnapshot struct {
	base
	parent Snapshot
	// owned is false for nested read-only snapshots, which share the
	// parent's id instead of allocating one.
	owned bool
}

// ReadOnly always returns true.
func (s *ReadonlySnapshot) ReadOnly() bool { return true }

func (s *ReadonlySnapshot) mutableTarget() (*MutableSnapshot, error) {
	return nil, fmt.Errorf("snapshot %d: %w", s.id, errors.ErrIllegalWrite)
}

// TakeNestedSnapshot opens a read-only child with the same view.
func (s *ReadonlySnapshot) TakeNestedSnapshot(readObserver func(StateObject)) (Snapshot, error) {
	return s.coord.takeNestedReadonly(s, readObserver)
}

// Dispose closes the snapshot.
func (s *ReadonlySnapshot) Dispose() {
	c := s.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	s.state = StateDisposed
	if s.owned {
		c.open = c.open.Remove(s.id)
	}
	c.unpinLocked(&s.base)
}

// MutableSnapshot is a snapshot that records writes in its own records and
// publishes them on Apply.
type MutableSnapshot struct {
	base
	writeObserver func(StateObject)
	parent        *MutableSnapshot
	global        bool
	children      int
	previousIDs   IDSet
	// writes counts writes through the snapshot; derived state uses it to
	// detect in-place updates of records the snapshot owns.
	writes atomic.Int64

	mu       sync.Mutex
	modified map[StateObject]struct{}
	order    []StateObject
}

// ReadOnly always returns false.
func (s *MutableSnapshot) ReadOnly() bool { return false }

// Parent returns the enclosing mutable snapshot, or nil for a root.
func (s *MutableSnapshot) Parent() *MutableSnapshot { return s.parent }

// Global reports whether this is the coordinator's global snapshot.
func (s *MutableSnapshot) Global() bool { return s.global }

func (s *MutableSnapshot) mutableTarget() (*MutableSnapshot, error) {
	return s, nil
}

// Modified returns the state objects written through this snapshot, in the
// order of their first write.
func (s *MutableSnapshot) Modified() []StateObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StateObject, len(s.order))
	copy(out, s.order)
	return out
}

// HasPendingChanges reports whether the snapshot has written any object.
func (s *MutableSnapshot) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order) > 0
}

// recordModified adds obj to the write-set and reports whether it was new.
func (s *MutableSnapshot) recordModified(obj StateObject) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modified[obj]; ok {
		return false
	}
	if s.modified == nil {
		s.modified = make(map[StateObject]struct{})
	}
	s.modified[obj] = struct{}{}
	s.order = append(s.order, obj)
	return true
}

// takeModified empties the write-set and returns it.
func (s *MutableSnapshot) takeModified() []StateObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.order
	s.order = nil
	s.modified = nil
	return out
}

// TakeNestedSnapshot opens a read-only child seeing this snapshot's writes.
func (s *MutableSnapshot) TakeNestedSnapshot(readObserver func(StateObject)) (Snapshot, error) {
	return s.coord.takeNestedReadonly(s, readObserver)
}

// TakeNestedMutableSnapshot opens a mutable child. The child starts with this
// snapshot's view and keeps an independent write-set that is merged into
// this snapshot, and only this snapshot, when the child applies.
func (s *MutableSnapshot) TakeNestedMutableSnapshot(readObserver, writeObserver func(StateObject)) (*MutableSnapshot, error) {
	return s.coord.takeNestedMutable(s, readObserver, writeObserver)
}

// write runs fn on the record of obj owned by this snapshot, creating it
// from the visible record when needed. Writes to a global snapshot are
// redirected to the coordinator's current global snapshot.
func (s *MutableSnapshot) write(obj StateObject, fn func(StateRecord)) {
	c := s.coord
	target := s
	if s.global {
		c.mu.Lock()
		target = c.global
		target.writes.Add(1)
		first := target.writeLocked(obj, fn)
		observers := c.globalWriteObserverList()
		c.mu.Unlock()
		if first {
			for _, obs := range observers {
				obs(obj)
			}
		}
		return
	}

	s.writes.Add(1)
	b := obj.objectBase()
	b.mu.Lock()
	rec := readableLocked(b.first, s.id, s.invalid)
	if rec != nil && rec.recordBase().id == s.id {
		fn(rec)
		b.mu.Unlock()
		if s.recordModified(obj) && s.writeObserver != nil {
			s.writeObserver(obj)
		}
		return
	}
	b.mu.Unlock()

	c.mu.Lock()
	first := s.writeLocked(obj, fn)
	c.mu.Unlock()
	if first && s.writeObserver != nil {
		s.writeObserver(obj)
	}
}

// writeLocked is write with the coordinator lock held. It reports whether
// this was the first write of obj in the snapshot.
func (s *MutableSnapshot) writeLocked(obj StateObject, fn func(StateRecord)) bool {
	c := s.coord
	b := obj.objectBase()
	b.mu.Lock()
	rec := readableLocked(b.first, s.id, s.invalid)
	if rec == nil {
		b.mu.Unlock()
		panic(&NoRecordError{Object: b.Label(), Snapshot: s.id})
	}
	if rec.recordBase().id != s.id {
		rec = newWritableLocked(b, rec, s.id, c.lowestPinnedLocked())
	}
	fn(rec)
	b.mu.Unlock()
	return s.recordModified(obj)
}

// newWritableLocked returns a record tagged with id holding readable's
// value, reusing an unobservable record when one exists.
func newWritableLocked(b *StateObjectBase, readable StateRecord, id ID, reuseLimit ID) StateRecord {
	rec := usedLocked(b.first, reuseLimit)
	if rec == nil {
		rec = readable.Create()
		rec.recordBase().next = b.first
		b.first = rec
	}
	rec.Assign(readable)
	rec.recordBase().id = id
	return rec
}

// Apply publishes the snapshot's writes. A root snapshot's writes become
// visible to snapshots opened afterwards and are reported to apply
// observers; a nested snapshot's writes become visible to its parent only.
//
// Apply fails with an *errors.ApplyConflictError when another snapshot
// committed a write to the same object after this snapshot was opened and
// the object's merge policy declined. A failed snapshot stays open and must
// be disposed by the caller, who may redo the work in a fresh snapshot.
func (s *MutableSnapshot) Apply() error {
	if s.global {
		return fmt.Errorf("snapshot %d: the global snapshot cannot be applied, use SendApplyNotifications", s.id)
	}
	if s.parent != nil {
		return s.coord.applyNested(s)
	}
	return s.coord.applyRoot(s)
}

// Dispose discards the snapshot and its writes.
func (s *MutableSnapshot) Dispose() {
	if s.global {
		return
	}
	s.coord.disposeMutable(s)
}

// innerApplyLocked runs the conflict check of s against the view
// (target, currentInvalid) and, on success, installs merged records tagged
// with target. The caller holds the coordinator lock.
func (s *MutableSnapshot) innerApplyLocked(modified []StateObject, target ID, currentInvalid IDSet) error {
	start := s.invalid.Add(s.id).Union(s.previousIDs)

	type merge struct {
		obj StateObject
		rec StateRecord
	}
	var merges []merge
	var conflicts []StateObject

	for _, obj := range modified {
		b := obj.objectBase()
		b.mu.RLock()
		current := readableLocked(b.first, target, currentInvalid)
		previous := readableLocked(b.first, s.id, start)
		applied := readableLocked(b.first, s.id, s.invalid)
		b.mu.RUnlock()
		if current == nil || previous == nil || applied == nil || current == previous {
			continue
		}
		merged := obj.MergeRecords(previous, current, applied)
		switch merged {
		case nil:
			conflicts = append(conflicts, obj)
		case applied, current:
			// The winner is re-tagged with target so it outranks any
			// record committed after this snapshot was opened.
			b.mu.RLock()
			rec := merged.Create()
			rec.Assign(merged)
			b.mu.RUnlock()
			merges = append(merges, merge{obj: obj, rec: rec})
		default:
			merges = append(merges, merge{obj: obj, rec: merged})
		}
	}

	if len(conflicts) > 0 {
		labels := make([]string, len(conflicts))
		for i, obj := range conflicts {
			labels[i] = Describe(obj)
		}
		return &errors.ApplyConflictError{Snapshot: int64(s.id), Conflicts: len(conflicts), Objects: labels}
	}

	for _, m := range merges {
		b := m.obj.objectBase()
		b.mu.Lock()
		m.rec.recordBase().id = target
		m.rec.recordBase().next = b.first
		b.first = m.rec
		b.mu.Unlock()
	}
	return nil
}

// abandonLocked recycles every record written by s so that no snapshot can
// ever observe them. The caller holds the coordinator lock.
func (s *MutableSnapshot) abandonLocked(modified []StateObject) {
	owned := s.previousIDs.Add(s.id)
	for _, obj := range modified {
		b := obj.objectBase()
		b.mu.Lock()
		for r := b.first; r != nil; r = r.recordBase().next {
			if owned.Contains(r.recordBase().id) {
				r.recordBase().id = invalidID
			}
		}
		b.mu.Unlock()
	}
}

// WriteTo returns the mutable snapshot writes through snap land in, or
// errors.ErrIllegalWrite for read-only snapshots.
func WriteTo(snap Snapshot) (*MutableSnapshot, error) {
	return snap.mutableTarget()
}
