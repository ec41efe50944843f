package snapshot

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/go-drift/recompose/pkg/errors"
)

type mapRecord[K comparable, V any] struct {
	RecordBase
	// entries is never mutated after it is stored; writers copy it.
	entries map[K]V
}

func (r *mapRecord[K, V]) Create() StateRecord { return &mapRecord[K, V]{} }

func (r *mapRecord[K, V]) Assign(from StateRecord) {
	r.entries = from.(*mapRecord[K, V]).entries
}

// StateMap is a map-valued state object. Concurrent snapshots that edit
// different keys merge cleanly at apply time; editing the same key to
// different values is a conflict.
type StateMap[K comparable, V any] struct {
	StateObjectBase
	coord *Coordinator
}

// NewStateMap creates an empty state map.
func NewStateMap[K comparable, V any](c *Coordinator) *StateMap[K, V] {
	m := &StateMap[K, V]{coord: c}
	m.init(&mapRecord[K, V]{RecordBase: RecordBase{id: preexistingID}, entries: map[K]V{}}, "")
	return m
}

// Named sets the debug label.
func (m *StateMap[K, V]) Named(label string) *StateMap[K, V] {
	m.label = label
	return m
}

func (m *StateMap[K, V]) entries(snap Snapshot) map[K]V {
	return readRecord(m, snap, func(r *mapRecord[K, V]) map[K]V { return r.entries })
}

// Get returns the value stored under k in snap.
func (m *StateMap[K, V]) Get(snap Snapshot, k K) (V, bool) {
	v, ok := m.entries(snap)[k]
	return v, ok
}

// Len returns the number of entries visible to snap.
func (m *StateMap[K, V]) Len(snap Snapshot) int {
	return len(m.entries(snap))
}

// All returns a copy of the entries visible to snap.
func (m *StateMap[K, V]) All(snap Snapshot) map[K]V {
	return maps.Clone(m.entries(snap))
}

// Put stores v under k in snap.
func (m *StateMap[K, V]) Put(snap Snapshot, k K, v V) error {
	return m.edit(snap, func(entries map[K]V) bool {
		if old, ok := entries[k]; ok && reflect.DeepEqual(old, v) {
			return false
		}
		entries[k] = v
		return true
	})
}

// Delete removes k in snap.
func (m *StateMap[K, V]) Delete(snap Snapshot, k K) error {
	return m.edit(snap, func(entries map[K]V) bool {
		if _, ok := entries[k]; !ok {
			return false
		}
		delete(entries, k)
		return true
	})
}

// Clear removes every entry in snap.
func (m *StateMap[K, V]) Clear(snap Snapshot) error {
	return m.edit(snap, func(entries map[K]V) bool {
		if len(entries) == 0 {
			return false
		}
		clear(entries)
		return true
	})
}

// edit copies the visible entries, applies fn and stores the copy when fn
// reports a change.
func (m *StateMap[K, V]) edit(snap Snapshot, fn func(map[K]V) bool) error {
	target, err := WriteTo(snap)
	if err != nil {
		return err
	}
	view := Snapshot(target)
	if target.global {
		view = m.coord.Global()
	} else if st := target.State(); st != StateOpen {
		return fmt.Errorf("write to snapshot %d (%s): %w", target.id, st, errors.ErrSnapshotClosed)
	}
	next := maps.Clone(peekRecord(m, view, func(r *mapRecord[K, V]) map[K]V { return r.entries }))
	if next == nil {
		next = map[K]V{}
	}
	if !fn(next) {
		return nil
	}
	target.write(m, func(r StateRecord) {
		r.(*mapRecord[K, V]).entries = next
	})
	return nil
}

// MergeRecords performs a key-wise three-way merge.
func (m *StateMap[K, V]) MergeRecords(previous, current, applied StateRecord) StateRecord {
	p := previous.(*mapRecord[K, V]).entries
	c := current.(*mapRecord[K, V]).entries
	a := applied.(*mapRecord[K, V]).entries

	merged := maps.Clone(c)
	if merged == nil {
		merged = map[K]V{}
	}
	keys := make(map[K]struct{}, len(p)+len(a))
	for k := range p {
		keys[k] = struct{}{}
	}
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range keys {
		pv, pok := p[k]
		av, aok := a[k]
		if pok == aok && reflect.DeepEqual(pv, av) {
			// Unchanged by the applying snapshot.
			continue
		}
		cv, cok := c[k]
		currentChanged := pok != cok || !reflect.DeepEqual(pv, cv)
		if currentChanged && (aok != cok || !reflect.DeepEqual(av, cv)) {
			return nil
		}
		if aok {
			merged[k] = av
		} else {
			delete(merged, k)
		}
	}
	return &mapRecord[K, V]{entries: merged}
}

func (m *StateMap[K, V]) String() string {
	return fmt.Sprintf("StateMap(%s)", m.Label())
}
