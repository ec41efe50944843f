// Package snapshot provides observable state with isolated, versioned views.
//
// State objects (MutableState, StateMap, DerivedState) keep a chain of
// records, each tagged with the id of the snapshot that wrote it. A snapshot
// sees the newest record whose id is not above its own and that was not
// written by a snapshot still open when it was taken. Mutable snapshots
// collect their writes privately and publish them with Apply, which detects
// conflicting writes from other snapshots.
//
// # Coordinator
//
// All snapshots and state objects belong to a Coordinator. It owns the
// version counter, the open snapshot set and the observer registries, so
// independent runtimes (and tests) never share state:
//
//	c := snapshot.NewCoordinator()
//	count := snapshot.MutableStateOf(c, 0)
//
//	s, _ := c.TakeMutableSnapshot(nil, nil)
//	_ = count.Write(s, 5)
//	if err := s.Apply(); err != nil {
//	    s.Dispose()
//	}
//
// # Global Snapshot
//
// Writes made outside any explicit snapshot go to the global snapshot via
// Set. They are visible to snapshots taken afterwards and are reported to
// apply observers by SendApplyNotifications.
//
// # Conflicts
//
// Apply fails with *errors.ApplyConflictError when another snapshot
// committed a different value for an object after this snapshot was opened.
// The object's MutationPolicy may merge the values instead. Retrying means
// redoing the work in a fresh snapshot; the package never retries.
package snapshot
