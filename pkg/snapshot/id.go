package snapshot

import (
	"slices"
	"strconv"
	"strings"
)

// ID is a snapshot version id. Ids are allocated from a single increasing
// counter per Coordinator.
type ID int64

const (
	// invalidID marks a record that no snapshot may read. Recycled records
	// carry it until they are reused.
	invalidID ID = 0
	// preexistingID tags records of state objects created outside any
	// snapshot so that every snapshot can read their initial value.
	preexistingID ID = 1
	// firstID is the first id handed out by a Coordinator.
	firstID ID = 2
)

// IDSet is an immutable sorted set of snapshot ids. Every mutating method
// returns a new set and leaves the receiver untouched, so sets can be shared
// between snapshots without copying.
type IDSet struct {
	ids []ID
}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...ID) IDSet {
	var s IDSet
	for _, id := range ids {
		s = s.Add(id)
	}
	return s
}

// Len returns the number of ids in the set.
func (s IDSet) Len() int { return len(s.ids) }

// Contains reports whether id is in the set.
func (s IDSet) Contains(id ID) bool {
	_, found := slices.BinarySearch(s.ids, id)
	return found
}

// Add returns a set that also contains id.
func (s IDSet) Add(id ID) IDSet {
	i, found := slices.BinarySearch(s.ids, id)
	if found {
		return s
	}
	next := make([]ID, 0, len(s.ids)+1)
	next = append(next, s.ids[:i]...)
	next = append(next, id)
	next = append(next, s.ids[i:]...)
	return IDSet{ids: next}
}

// Remove returns a set without id.
func (s IDSet) Remove(id ID) IDSet {
	i, found := slices.BinarySearch(s.ids, id)
	if !found {
		return s
	}
	next := make([]ID, 0, len(s.ids)-1)
	next = append(next, s.ids[:i]...)
	next = append(next, s.ids[i+1:]...)
	return IDSet{ids: next}
}

// AddRange returns a set that also contains every id in [from, until).
func (s IDSet) AddRange(from, until ID) IDSet {
	if from >= until {
		return s
	}
	next := make([]ID, 0, len(s.ids)+int(until-from))
	i := 0
	for id := from; id < until; id++ {
		for i < len(s.ids) && s.ids[i] < id {
			next = append(next, s.ids[i])
			i++
		}
		if i < len(s.ids) && s.ids[i] == id {
			i++
		}
		next = append(next, id)
	}
	next = append(next, s.ids[i:]...)
	return IDSet{ids: next}
}

// Union returns the ids present in either set.
func (s IDSet) Union(other IDSet) IDSet {
	if len(other.ids) == 0 {
		return s
	}
	if len(s.ids) == 0 {
		return other
	}
	next := make([]ID, 0, len(s.ids)+len(other.ids))
	i, j := 0, 0
	for i < len(s.ids) && j < len(other.ids) {
		switch {
		case s.ids[i] < other.ids[j]:
			next = append(next, s.ids[i])
			i++
		case s.ids[i] > other.ids[j]:
			next = append(next, other.ids[j])
			j++
		default:
			next = append(next, s.ids[i])
			i++
			j++
		}
	}
	next = append(next, s.ids[i:]...)
	next = append(next, other.ids[j:]...)
	return IDSet{ids: next}
}

// Difference returns the ids of s that are not in other.
func (s IDSet) Difference(other IDSet) IDSet {
	if len(other.ids) == 0 || len(s.ids) == 0 {
		return s
	}
	next := make([]ID, 0, len(s.ids))
	for _, id := range s.ids {
		if !other.Contains(id) {
			next = append(next, id)
		}
	}
	return IDSet{ids: next}
}

// Lowest returns the smallest id in the set, or def when the set is empty or
// its smallest id is larger than def.
func (s IDSet) Lowest(def ID) ID {
	if len(s.ids) == 0 || s.ids[0] > def {
		return def
	}
	return s.ids[0]
}

// Slice returns a copy of the ids in ascending order.
func (s IDSet) Slice() []ID {
	return slices.Clone(s.ids)
}

func (s IDSet) String() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
