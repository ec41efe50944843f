package snapshot

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// StateRecord is one versioned value of a StateObject. Records form a
// singly-linked list owned by their object; each is tagged with the id of the
// snapshot that created it.
//
// Implementations embed RecordBase and provide Create and Assign.
type StateRecord interface {
	recordBase() *RecordBase
	// Create returns a new empty record of the same concrete type.
	Create() StateRecord
	// Assign copies the value held by from into the receiver.
	Assign(from StateRecord)
}

// RecordBase carries the bookkeeping shared by all records. Its fields are
// guarded by the owning object's lock.
type RecordBase struct {
	id   ID
	next StateRecord
}

func (r *RecordBase) recordBase() *RecordBase { return r }

// SnapshotID returns the id of the snapshot that created the record.
func (r *RecordBase) SnapshotID() ID { return r.id }

// StateObject is a memory cell tracked by snapshots. Implementations embed
// StateObjectBase and provide MergeRecords.
type StateObject interface {
	objectBase() *StateObjectBase
	// MergeRecords resolves a conflicting write at apply time. previous is the
	// record visible when the applying snapshot was opened, current is the
	// latest committed record and applied is the applying snapshot's record.
	// It returns applied or current to keep either side, a new record holding
	// a merged value, or nil to decline (the apply then fails).
	MergeRecords(previous, current, applied StateRecord) StateRecord
}

var objectSeq atomic.Uint64

// StateObjectBase owns the record chain of a state object.
type StateObjectBase struct {
	mu    sync.RWMutex
	first StateRecord
	seq   uint64
	label string
}

func (b *StateObjectBase) objectBase() *StateObjectBase { return b }

// init installs the first record. It must be called once by constructors.
func (b *StateObjectBase) init(first StateRecord, label string) {
	b.first = first
	b.seq = objectSeq.Add(1)
	b.label = label
}

// FirstRecord returns the head of the record chain.
func (b *StateObjectBase) FirstRecord() StateRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.first
}

// PrependRecord makes r the new head of the record chain.
func (b *StateObjectBase) PrependRecord(r StateRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r.recordBase().next = b.first
	b.first = r
}

// RecordCount returns the number of records in the chain, including
// recycled ones.
func (b *StateObjectBase) RecordCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for r := b.first; r != nil; r = r.recordBase().next {
		n++
	}
	return n
}

// Label returns the debug label of the object.
func (b *StateObjectBase) Label() string {
	if b.label != "" {
		return b.label
	}
	return fmt.Sprintf("state#%d", b.seq)
}

// Describe returns a label for any state object.
func Describe(obj StateObject) string {
	return obj.objectBase().Label()
}

// valid reports whether a record created by recordID is visible to a
// snapshot with the given id and invalid set.
func valid(recordID, snapshotID ID, invalid IDSet) bool {
	return recordID != invalidID && recordID <= snapshotID && !invalid.Contains(recordID)
}

// readableLocked returns the newest record visible to the snapshot. When two
// visible records share an id the one nearer the head wins. The caller holds
// the object's lock.
func readableLocked(first StateRecord, id ID, invalid IDSet) StateRecord {
	var candidate StateRecord
	var candidateID ID
	for r := first; r != nil; r = r.recordBase().next {
		rid := r.recordBase().id
		if valid(rid, id, invalid) && (candidate == nil || candidateID < rid) {
			candidate = r
			candidateID = rid
		}
	}
	return candidate
}

// readable returns the record of obj visible to (id, invalid), or nil.
func readable(obj StateObject, id ID, invalid IDSet) StateRecord {
	b := obj.objectBase()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return readableLocked(b.first, id, invalid)
}

// readableID is readable that also returns the record's id as seen under
// the object's lock.
func readableID(obj StateObject, id ID, invalid IDSet) (StateRecord, ID) {
	b := obj.objectBase()
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec := readableLocked(b.first, id, invalid)
	if rec == nil {
		return nil, invalidID
	}
	return rec, rec.recordBase().id
}

// NoRecordError is the panic value raised when a snapshot reads an object
// that has no record visible to it, for example an object created in another
// snapshot that has not been applied.
type NoRecordError struct {
	Object   string
	Snapshot ID
}

func (e *NoRecordError) Error() string {
	return fmt.Sprintf("snapshot %d cannot read %s: no visible record", e.Snapshot, e.Object)
}

// readRecord notifies snap's read observer and calls get with the visible
// record while the object's lock is held.
func readRecord[R StateRecord, V any](obj StateObject, snap Snapshot, get func(R) V) V {
	snap.notifyRead(obj)
	return peekRecord(obj, snap, get)
}

// peekRecord is readRecord without the read notification.
func peekRecord[R StateRecord, V any](obj StateObject, snap Snapshot, get func(R) V) V {
	b := obj.objectBase()
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec := readableLocked(b.first, snap.ID(), snap.invalidSet())
	if rec == nil {
		panic(&NoRecordError{Object: b.Label(), Snapshot: snap.ID()})
	}
	return get(rec.(R))
}

// usedLocked returns a record that no open snapshot can observe, or nil.
// A recycled record (invalid id) qualifies, as does the older of two records
// that are both below the reuse limit, since every open snapshot sees the
// newer one. The caller holds the coordinator lock and the object's lock.
func usedLocked(first StateRecord, reuseLimit ID) StateRecord {
	var validRecord StateRecord
	for r := first; r != nil; r = r.recordBase().next {
		rid := r.recordBase().id
		if rid == invalidID {
			return r
		}
		if rid < reuseLimit {
			if validRecord == nil {
				validRecord = r
				continue
			}
			if rid < validRecord.recordBase().id {
				return r
			}
			return validRecord
		}
	}
	return nil
}

// overwriteUnusedLocked recycles every record hidden from all open
// snapshots. It reports whether the object still has more than one record
// below the reuse limit. The caller holds the coordinator lock.
func overwriteUnusedLocked(obj StateObject, reuseLimit ID) bool {
	b := obj.objectBase()
	b.mu.Lock()
	defer b.mu.Unlock()

	var validRecord StateRecord
	retained := 0
	for r := b.first; r != nil; r = r.recordBase().next {
		rid := r.recordBase().id
		if rid == invalidID {
			continue
		}
		if rid < reuseLimit {
			if validRecord == nil {
				validRecord = r
				continue
			}
			var overwrite StateRecord
			if rid < validRecord.recordBase().id {
				overwrite = r
			} else {
				overwrite = validRecord
				validRecord = r
			}
			overwrite.recordBase().id = invalidID
			overwrite.Assign(validRecord)
			continue
		}
		retained++
	}
	return retained > 0
}
