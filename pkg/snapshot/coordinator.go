package snapshot

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-drift/recompose/pkg/errors"
)

// ApplyObserver receives the state objects changed by an applied snapshot
// (or by the global snapshot when it advances).
type ApplyObserver func(changed []StateObject, snap Snapshot)

type applyObserverEntry struct {
	handle int
	fn     ApplyObserver
}

type writeObserverEntry struct {
	handle int
	fn     func(StateObject)
}

// Coordinator is the process-wide state of one snapshot system: the version
// counter, the set of open snapshots, the pinning table used for record
// reuse, the global snapshot and the observer registries. Independent
// coordinators never share state, so tests and separate runtimes can live in
// one process.
//
// A single mutex guards all of it; apply runs its conflict check while
// holding it so the check is atomic with respect to other applies.
type Coordinator struct {
	mu     sync.Mutex
	nextID ID
	open   IDSet
	global *MutableSnapshot
	pins   map[ID]int
	extra  map[StateObject]struct{}
	closed bool

	nextHandle     int
	applyObservers []applyObserverEntry
	writeObservers []writeObserverEntry

	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator with a fresh global snapshot.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		nextID: firstID,
		pins:   make(map[ID]int),
		extra:  make(map[StateObject]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.mu.Lock()
	c.global = c.newGlobalLocked()
	c.mu.Unlock()
	return c
}

// Close shuts the coordinator down. Observers are dropped and taking new
// snapshots fails with errors.ErrCoordinatorClosed. Open snapshots stay
// readable.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.applyObservers = nil
	c.writeObservers = nil
	c.logger.Debug("snapshot coordinator closed", slog.Int64("next_id", int64(c.nextID)))
}

// Global returns the current global snapshot. Writes made outside any
// explicit snapshot land here and are published by SendApplyNotifications.
func (c *Coordinator) Global() *MutableSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global
}

// OpenSnapshots returns the ids of every open snapshot, including the
// global one.
func (c *Coordinator) OpenSnapshots() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open.Slice()
}

// LowestPinned returns the reuse limit: records older than it that are
// hidden by a newer record below it can be recycled.
func (c *Coordinator) LowestPinned() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lowestPinnedLocked()
}

// TakeSnapshot opens a read-only snapshot of the latest committed state.
func (c *Coordinator) TakeSnapshot(readObserver func(StateObject)) (*ReadonlySnapshot, error) {
	var snap *ReadonlySnapshot
	err := c.takeNew(func(id ID, invalid IDSet) {
		snap = &ReadonlySnapshot{
			base:  base{coord: c, id: id, invalid: invalid, readObserver: readObserver},
			owned: true,
		}
		c.pinLocked(&snap.base)
	})
	return snap, err
}

// TakeMutableSnapshot opens a mutable snapshot of the latest committed
// state. writeObserver is called once per object, on its first write.
func (c *Coordinator) TakeMutableSnapshot(readObserver, writeObserver func(StateObject)) (*MutableSnapshot, error) {
	var snap *MutableSnapshot
	err := c.takeNew(func(id ID, invalid IDSet) {
		snap = &MutableSnapshot{
			base:          base{coord: c, id: id, invalid: invalid, readObserver: readObserver},
			writeObserver: writeObserver,
		}
		c.pinLocked(&snap.base)
	})
	return snap, err
}

// WithMutableSnapshot runs fn in a new mutable snapshot and applies it when
// fn succeeds. The snapshot is disposed when fn or Apply fails.
func (c *Coordinator) WithMutableSnapshot(fn func(*MutableSnapshot) error) error {
	snap, err := c.TakeMutableSnapshot(nil, nil)
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		snap.Dispose()
		return err
	}
	if err := snap.Apply(); err != nil {
		snap.Dispose()
		return err
	}
	return nil
}

// takeNew advances the global snapshot so prior global writes become
// visible, then allocates a snapshot id whose invalid set is every snapshot
// open at that moment.
func (c *Coordinator) takeNew(create func(id ID, invalid IDSet)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrCoordinatorClosed
	}
	prev, changed := c.advanceGlobalLocked()
	id := c.nextID
	c.nextID++
	create(id, c.open)
	c.open = c.open.Add(id)
	observers := c.applyObserverList()
	c.mu.Unlock()

	c.notifyApplied(observers, changed, prev)
	return nil
}

func (c *Coordinator) takeNestedReadonly(parent Snapshot, readObserver func(StateObject)) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.ErrCoordinatorClosed
	}
	var parentObserver func(StateObject)
	var state State
	switch p := parent.(type) {
	case *ReadonlySnapshot:
		parentObserver, state = p.readObserver, p.state
	case *MutableSnapshot:
		parentObserver, state = p.readObserver, p.state
	}
	if state != StateOpen {
		return nil, fmt.Errorf("nested snapshot of %d: %w", parent.ID(), errors.ErrSnapshotClosed)
	}
	snap := &ReadonlySnapshot{
		base: base{
			coord:        c,
			id:           parent.ID(),
			invalid:      parent.invalidSet(),
			readObserver: mergeObservers(readObserver, parentObserver),
		},
		parent: parent,
	}
	c.pinLocked(&snap.base)
	return snap, nil
}

func (c *Coordinator) takeNestedMutable(parent *MutableSnapshot, readObserver, writeObserver func(StateObject)) (*MutableSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.ErrCoordinatorClosed
	}
	if parent.state != StateOpen {
		return nil, fmt.Errorf("nested snapshot of %d: %w", parent.id, errors.ErrSnapshotClosed)
	}
	id := c.nextID
	c.nextID++
	c.open = c.open.Add(id)
	// Ids handed out after the parent was opened belong to snapshots the
	// parent cannot see; the child must not see them either.
	invalid := parent.invalid.AddRange(parent.id+1, id)
	snap := &MutableSnapshot{
		base: base{
			coord:        c,
			id:           id,
			invalid:      invalid,
			readObserver: mergeObservers(readObserver, parent.readObserver),
		},
		writeObserver: mergeObservers(writeObserver, parent.writeObserver),
		parent:        parent,
	}
	parent.children++
	c.pinLocked(&snap.base)
	return snap, nil
}

// applyRoot applies a top-level mutable snapshot.
func (c *Coordinator) applyRoot(s *MutableSnapshot) error {
	modified := s.Modified()

	c.mu.Lock()
	if s.state != StateOpen {
		c.mu.Unlock()
		return fmt.Errorf("apply snapshot %d: %w", s.id, errors.ErrSnapshotClosed)
	}
	if s.children > 0 {
		c.mu.Unlock()
		return fmt.Errorf("apply snapshot %d: %w", s.id, errors.ErrNestedSnapshotOpen)
	}
	s.state = StateApplying
	if len(modified) > 0 {
		// The next global snapshot takes c.nextID, so merged records tagged
		// with it become visible exactly when this apply is published.
		if err := s.innerApplyLocked(modified, c.nextID, c.open.Remove(c.global.id)); err != nil {
			s.state = StateOpen
			c.mu.Unlock()
			c.logger.Debug("snapshot apply conflict", slog.Int64("snapshot", int64(s.id)), slog.Any("error", err))
			return err
		}
	}
	c.closeLocked(s)
	prev, globalChanged := c.advanceGlobalLocked()
	s.state = StateApplied
	s.takeModified()
	observers := c.applyObserverList()
	c.mu.Unlock()

	c.notifyApplied(observers, globalChanged, prev)
	if len(modified) > 0 {
		for _, obs := range observers {
			obs(modified, s)
		}
	}

	c.mu.Lock()
	c.recycleLocked(modified)
	c.mu.Unlock()
	return nil
}

// applyNested merges a nested snapshot into its parent.
func (c *Coordinator) applyNested(s *MutableSnapshot) error {
	modified := s.Modified()
	parent := s.parent

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.state != StateOpen {
		return fmt.Errorf("apply snapshot %d: %w", s.id, errors.ErrSnapshotClosed)
	}
	if parent.state != StateOpen {
		return fmt.Errorf("apply snapshot %d into closed parent %d: %w", s.id, parent.id, errors.ErrSnapshotClosed)
	}
	if s.children > 0 {
		return fmt.Errorf("apply snapshot %d: %w", s.id, errors.ErrNestedSnapshotOpen)
	}
	s.state = StateApplying

	if len(modified) > 0 {
		// Move the parent past the child's id so merged records tagged with
		// the parent's new id are newer than anything the child wrote.
		c.advanceLocked(parent)
		if err := s.innerApplyLocked(modified, parent.id, parent.invalid); err != nil {
			s.state = StateOpen
			return err
		}
		for _, obj := range modified {
			parent.recordModified(obj)
		}
	}

	parent.invalid = parent.invalid.Remove(s.id).Difference(s.previousIDs)
	parent.previousIDs = parent.previousIDs.Add(s.id).Union(s.previousIDs)
	parent.children--
	s.state = StateApplied
	s.takeModified()
	c.unpinLocked(&s.base)
	return nil
}

// advanceLocked gives an open mutable snapshot a fresh id. The old id is
// kept open and remembered in previousIDs so its records stay private until
// the snapshot closes.
func (c *Coordinator) advanceLocked(s *MutableSnapshot) {
	old := s.id
	s.previousIDs = s.previousIDs.Add(old)
	s.id = c.nextID
	c.nextID++
	c.open = c.open.Add(s.id)
	s.invalid = s.invalid.AddRange(old+1, s.id)
}

func (c *Coordinator) disposeMutable(s *MutableSnapshot) {
	modified := s.Modified()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.state == StateApplied || s.state == StateDisposed {
		return
	}
	s.abandonLocked(modified)
	s.state = StateDisposed
	s.takeModified()
	if s.parent != nil {
		s.parent.children--
	}
	c.closeLocked(s)
	c.recycleLocked(modified)
}

// closeLocked removes s and the ids it absorbed from the open set.
func (c *Coordinator) closeLocked(s *MutableSnapshot) {
	c.open = c.open.Remove(s.id).Difference(s.previousIDs)
	c.unpinLocked(&s.base)
}

// SendApplyNotifications publishes writes made in the global snapshot: the
// global snapshot advances and apply observers receive the changed objects.
func (c *Coordinator) SendApplyNotifications() {
	c.mu.Lock()
	if c.closed || !c.global.HasPendingChanges() {
		c.mu.Unlock()
		return
	}
	prev, changed := c.advanceGlobalLocked()
	observers := c.applyObserverList()
	c.mu.Unlock()

	c.notifyApplied(observers, changed, prev)
}

// advanceGlobalLocked retires the global snapshot and opens a new one. It
// returns the retired snapshot and the objects it changed.
func (c *Coordinator) advanceGlobalLocked() (*MutableSnapshot, []StateObject) {
	prev := c.global
	changed := prev.takeModified()
	c.open = c.open.Remove(prev.id)
	c.unpinLocked(&prev.base)
	prev.state = StateApplied
	c.global = c.newGlobalLocked()
	return prev, changed
}

func (c *Coordinator) newGlobalLocked() *MutableSnapshot {
	id := c.nextID
	c.nextID++
	g := &MutableSnapshot{
		base:   base{coord: c, id: id, invalid: c.open},
		global: true,
	}
	c.open = c.open.Add(id)
	c.pinLocked(&g.base)
	return g
}

func (c *Coordinator) notifyApplied(observers []ApplyObserver, changed []StateObject, snap Snapshot) {
	if len(changed) == 0 {
		return
	}
	for _, obs := range observers {
		obs(changed, snap)
	}
	c.mu.Lock()
	c.recycleLocked(changed)
	c.mu.Unlock()
}

// RegisterApplyObserver registers obs and returns a function that
// unregisters it.
func (c *Coordinator) RegisterApplyObserver(obs ApplyObserver) (dispose func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle++
	handle := c.nextHandle
	c.applyObservers = append(c.applyObservers, applyObserverEntry{handle: handle, fn: obs})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.applyObservers {
			if e.handle == handle {
				c.applyObservers = append(c.applyObservers[:i:i], c.applyObservers[i+1:]...)
				return
			}
		}
	}
}

// RegisterGlobalWriteObserver registers obs to be called the first time an
// object is written in the global snapshot since it last advanced.
func (c *Coordinator) RegisterGlobalWriteObserver(obs func(StateObject)) (dispose func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle++
	handle := c.nextHandle
	c.writeObservers = append(c.writeObservers, writeObserverEntry{handle: handle, fn: obs})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.writeObservers {
			if e.handle == handle {
				c.writeObservers = append(c.writeObservers[:i:i], c.writeObservers[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator) applyObserverList() []ApplyObserver {
	out := make([]ApplyObserver, len(c.applyObservers))
	for i, e := range c.applyObservers {
		out[i] = e.fn
	}
	return out
}

func (c *Coordinator) globalWriteObserverList() []func(StateObject) {
	out := make([]func(StateObject), len(c.writeObservers))
	for i, e := range c.writeObservers {
		out[i] = e.fn
	}
	return out
}

// pinLocked records the oldest id the snapshot may still read so records it
// can see are never recycled.
func (c *Coordinator) pinLocked(b *base) {
	if b.pinned {
		return
	}
	b.pin = b.invalid.Lowest(b.id)
	b.pinned = true
	c.pins[b.pin]++
}

func (c *Coordinator) unpinLocked(b *base) {
	if !b.pinned {
		return
	}
	b.pinned = false
	if c.pins[b.pin] <= 1 {
		delete(c.pins, b.pin)
	} else {
		c.pins[b.pin]--
	}
}

func (c *Coordinator) lowestPinnedLocked() ID {
	lowest := c.nextID
	for id := range c.pins {
		if id < lowest {
			lowest = id
		}
	}
	return lowest
}

// recycleLocked recycles hidden records of the given objects and of any
// object that previously kept records alive because of a pinned snapshot.
func (c *Coordinator) recycleLocked(objs []StateObject) {
	limit := c.lowestPinnedLocked()
	for obj := range c.extra {
		if !overwriteUnusedLocked(obj, limit) {
			delete(c.extra, obj)
		}
	}
	for _, obj := range objs {
		if overwriteUnusedLocked(obj, limit) {
			c.extra[obj] = struct{}{}
		}
	}
}
