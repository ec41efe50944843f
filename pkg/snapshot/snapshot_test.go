package snapshot

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/recompose/pkg/errors"
)

func TestSnapshotIsolation(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0).Named("count")

	before, err := c.TakeSnapshot(nil)
	require.NoError(t, err)
	defer before.Dispose()

	s1, err := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, err)
	require.NoError(t, count.Write(s1, 5))

	assert.Equal(t, 5, count.Read(s1))
	assert.Equal(t, 0, count.Read(before))
	assert.Equal(t, 0, count.Value(), "unapplied writes stay private")

	require.NoError(t, s1.Apply())
	assert.Equal(t, StateApplied, s1.State())

	after, err := c.TakeSnapshot(nil)
	require.NoError(t, err)
	defer after.Dispose()

	assert.Equal(t, 5, count.Read(after))
	assert.Equal(t, 0, count.Read(before), "snapshot opened before apply keeps its view")
	assert.Equal(t, 5, count.Value())
}

func TestConcurrentSnapshotsConflict(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0).Named("count")

	s1, err := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, err)
	s2, err := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, err)

	require.NoError(t, count.Write(s1, 1))
	require.NoError(t, count.Write(s2, 2))

	require.NoError(t, s1.Apply())
	err = s2.Apply()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, &errors.ApplyConflictError{}))

	var conflict *errors.ApplyConflictError
	require.True(t, stderrors.As(err, &conflict))
	assert.Equal(t, 1, conflict.Conflicts)
	assert.Equal(t, []string{"count"}, conflict.Objects)

	assert.Equal(t, StateOpen, s2.State(), "a failed snapshot stays open")
	s2.Dispose()
	assert.Equal(t, StateDisposed, s2.State())
	assert.Equal(t, 1, count.Value())
}

func TestEquivalentConcurrentWritesDoNotConflict(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	s1, _ := c.TakeMutableSnapshot(nil, nil)
	s2, _ := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(s1, 4))
	require.NoError(t, count.Write(s2, 4))

	require.NoError(t, s1.Apply())
	require.NoError(t, s2.Apply())
	assert.Equal(t, 4, count.Value())
}

func TestMergePolicyResolvesConflict(t *testing.T) {
	c := NewCoordinator()
	additive := WithMerge(StructuralEqualityPolicy[int](), func(previous, current, applied int) (int, bool) {
		return current + applied - previous, true
	})
	count := NewMutableState(c, 0, additive)

	s1, _ := c.TakeMutableSnapshot(nil, nil)
	s2, _ := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, count.Update(s1, func(v int) int { return v + 1 }))
	require.NoError(t, count.Update(s2, func(v int) int { return v + 2 }))

	require.NoError(t, s1.Apply())
	require.NoError(t, s2.Apply())
	assert.Equal(t, 3, count.Value())
}

func TestReadonlySnapshotRejectsWrites(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	ro, err := c.TakeSnapshot(nil)
	require.NoError(t, err)
	defer ro.Dispose()

	err = count.Write(ro, 1)
	assert.ErrorIs(t, err, errors.ErrIllegalWrite)
	assert.True(t, ro.ReadOnly())
}

func TestWriteEquivalentValueIsNoop(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 3)

	var writes int
	s, _ := c.TakeMutableSnapshot(nil, func(StateObject) { writes++ })
	require.NoError(t, count.Write(s, 3))
	assert.False(t, s.HasPendingChanges())
	assert.Zero(t, writes)

	require.NoError(t, count.Write(s, 4))
	require.NoError(t, count.Write(s, 5))
	assert.Equal(t, 1, writes, "write observer fires once per object")
	assert.Len(t, s.Modified(), 1)
	s.Dispose()
}

func TestNestedSnapshotAppliesIntoParentOnly(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	parent, err := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, err)
	child, err := parent.TakeNestedMutableSnapshot(nil, nil)
	require.NoError(t, err)

	require.NoError(t, count.Write(child, 7))
	assert.Equal(t, 0, count.Read(parent))

	require.ErrorIs(t, parent.Apply(), errors.ErrNestedSnapshotOpen)

	require.NoError(t, child.Apply())
	assert.Equal(t, 7, count.Read(parent))
	assert.Equal(t, 0, count.Value(), "nested apply does not reach global state")

	require.NoError(t, parent.Apply())
	assert.Equal(t, 7, count.Value())
}

func TestNestedSnapshotConflictsWithParentWrite(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	parent, _ := c.TakeMutableSnapshot(nil, nil)
	child, _ := parent.TakeNestedMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(child, 1))

	sibling, _ := parent.TakeNestedMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(sibling, 2))
	require.NoError(t, sibling.Apply())

	err := child.Apply()
	assert.True(t, stderrors.Is(err, &errors.ApplyConflictError{}))
	child.Dispose()

	require.NoError(t, parent.Apply())
	assert.Equal(t, 2, count.Value())
}

func TestDisposedNestedSnapshotDiscardsWrites(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	parent, _ := c.TakeMutableSnapshot(nil, nil)
	child, _ := parent.TakeNestedMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(child, 9))
	child.Dispose()

	assert.Equal(t, 0, count.Read(parent))
	require.NoError(t, parent.Apply())
	assert.Equal(t, 0, count.Value())
}

func TestApplyClosedSnapshot(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	s, _ := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(s, 1))
	require.NoError(t, s.Apply())
	assert.ErrorIs(t, s.Apply(), errors.ErrSnapshotClosed)
	assert.ErrorIs(t, count.Write(s, 2), errors.ErrSnapshotClosed)

	s.Dispose()
	assert.Equal(t, StateApplied, s.State(), "disposing an applied snapshot is a no-op")

	d, _ := c.TakeMutableSnapshot(nil, nil)
	d.Dispose()
	d.Dispose()
	assert.ErrorIs(t, d.Apply(), errors.ErrSnapshotClosed)
}

func TestDisposeDropsWrites(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	s, _ := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(s, 11))
	s.Dispose()

	assert.Equal(t, 0, count.Value())
	assert.NotContains(t, c.OpenSnapshots(), s.ID())
	assert.Len(t, c.OpenSnapshots(), 1, "only the global snapshot stays open")
}

func TestNestedReadonlySeesParentWrites(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	parent, _ := c.TakeMutableSnapshot(nil, nil)
	require.NoError(t, count.Write(parent, 3))

	var reads []StateObject
	nested, err := parent.TakeNestedSnapshot(func(obj StateObject) { reads = append(reads, obj) })
	require.NoError(t, err)
	assert.Equal(t, 3, count.Read(nested))
	assert.Equal(t, []StateObject{count}, reads)
	assert.ErrorIs(t, count.Write(nested, 4), errors.ErrIllegalWrite)

	nested.Dispose()
	parent.Dispose()
}

func TestApplyObserver(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	var batches [][]StateObject
	dispose := c.RegisterApplyObserver(func(changed []StateObject, _ Snapshot) {
		batches = append(batches, changed)
	})

	require.NoError(t, c.WithMutableSnapshot(func(s *MutableSnapshot) error {
		return count.Write(s, 1)
	}))
	require.Len(t, batches, 1)
	assert.Equal(t, []StateObject{count}, batches[0])

	dispose()
	require.NoError(t, c.WithMutableSnapshot(func(s *MutableSnapshot) error {
		return count.Write(s, 2)
	}))
	assert.Len(t, batches, 1)
}

func TestGlobalWritesAndSendApplyNotifications(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	var globalWrites int
	c.RegisterGlobalWriteObserver(func(StateObject) { globalWrites++ })
	var applied []StateObject
	c.RegisterApplyObserver(func(changed []StateObject, _ Snapshot) {
		applied = append(applied, changed...)
	})

	count.Set(3)
	count.Set(4)
	assert.Equal(t, 1, globalWrites)
	assert.Equal(t, 4, count.Value())
	assert.Empty(t, applied)

	c.SendApplyNotifications()
	assert.Equal(t, []StateObject{count}, applied)

	c.SendApplyNotifications()
	assert.Len(t, applied, 1, "nothing pending")

	s, _ := c.TakeSnapshot(nil)
	assert.Equal(t, 4, count.Read(s))
	s.Dispose()
}

func TestWithMutableSnapshotDisposesOnError(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)
	boom := stderrors.New("boom")

	err := c.WithMutableSnapshot(func(s *MutableSnapshot) error {
		require.NoError(t, count.Write(s, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count.Value())
	assert.Len(t, c.OpenSnapshots(), 1)
}

func TestRecordsAreRecycled(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	for i := 1; i <= 20; i++ {
		require.NoError(t, c.WithMutableSnapshot(func(s *MutableSnapshot) error {
			return count.Write(s, i)
		}))
	}
	assert.Equal(t, 20, count.Value())
	assert.LessOrEqual(t, count.RecordCount(), 3)
}

func TestPinnedSnapshotKeepsItsRecord(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	old, _ := c.TakeSnapshot(nil)
	for i := 1; i <= 5; i++ {
		require.NoError(t, c.WithMutableSnapshot(func(s *MutableSnapshot) error {
			return count.Write(s, i)
		}))
	}
	assert.Equal(t, 0, count.Read(old))
	assert.LessOrEqual(t, c.LowestPinned(), old.ID())

	old.Dispose()
	records := count.RecordCount()
	require.NoError(t, c.WithMutableSnapshot(func(s *MutableSnapshot) error {
		return count.Write(s, 6)
	}))
	assert.Equal(t, 6, count.Value())
	assert.Equal(t, records, count.RecordCount(), "hidden records are reused once unpinned")
}

func TestClosedCoordinator(t *testing.T) {
	c := NewCoordinator()
	c.Close()
	_, err := c.TakeSnapshot(nil)
	assert.ErrorIs(t, err, errors.ErrCoordinatorClosed)
	_, err = c.TakeMutableSnapshot(nil, nil)
	assert.ErrorIs(t, err, errors.ErrCoordinatorClosed)
}

func TestIndependentCoordinators(t *testing.T) {
	a := NewCoordinator()
	b := NewCoordinator()
	sa := MutableStateOf(a, 0)

	var notified bool
	b.RegisterApplyObserver(func([]StateObject, Snapshot) { notified = true })
	require.NoError(t, a.WithMutableSnapshot(func(s *MutableSnapshot) error {
		return sa.Write(s, 1)
	}))
	assert.False(t, notified)
}

func TestConcurrentReaders(t *testing.T) {
	c := NewCoordinator()
	count := MutableStateOf(c, 0)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s, err := c.TakeSnapshot(nil)
				if err != nil {
					return
				}
				first := count.Read(s)
				second := count.Read(s)
				if first != second {
					t.Errorf("snapshot %d saw %d then %d", s.ID(), first, second)
				}
				s.Dispose()
			}
		}()
	}
	for i := 1; i <= 50; i++ {
		require.NoError(t, c.WithMutableSnapshot(func(s *MutableSnapshot) error {
			return count.Write(s, i)
		}))
	}
	wg.Wait()
	assert.Equal(t, 50, count.Value())
}

func TestIDSet(t *testing.T) {
	s := NewIDSet(5, 2, 9)
	assert.Equal(t, []ID{2, 5, 9}, s.Slice())
	assert.True(t, s.Contains(5))
	assert.False(t, s.Contains(4))

	r := s.AddRange(4, 7)
	assert.Equal(t, []ID{2, 4, 5, 6, 9}, r.Slice())
	assert.Equal(t, []ID{2, 5, 9}, s.Slice(), "sets are immutable")

	assert.Equal(t, []ID{2, 9}, r.Difference(NewIDSet(4, 5, 6)).Slice())
	assert.Equal(t, []ID{1, 2, 5, 9}, s.Union(NewIDSet(1, 5)).Slice())
	assert.Equal(t, ID(2), s.Lowest(100))
	assert.Equal(t, ID(1), s.Lowest(1))
	assert.Equal(t, "{2, 5, 9}", s.String())
	assert.Equal(t, []ID{5, 9}, s.Remove(2).Slice())
}
