// Package core provides the composition runtime: the Composer that executes
// composable functions, the Composition that owns their slot table, and the
// hooks composables use to remember values and run effects.
//
// A composable is a plain function taking a *Composer. It emits nodes
// through an Applier and reads state through the composer's snapshot:
//
//	func Counter(c *core.Composer, count *snapshot.MutableState[int]) {
//	    core.Restartable(c, func(c *core.Composer) {
//	        n := core.Read(c, count)
//	        core.Emit(c, newLabel, func(c *core.Composer, l *Label) {
//	            c.Set(strconv.Itoa(n), setText)
//	        }, nil)
//	    }, count)
//	}
//
// # Passes
//
// A Composition composes its content once in SetContent. After that it
// only re-executes restart scopes that were invalidated, either because
// state they read changed (RecordModificationsOf) or because Invalidate
// was called. Each pass runs in its own mutable snapshot and moves through
// the phases Idle, Composing and Reconciling:
//
//   - Composing executes the invalid scopes, skipping every group whose
//     range holds no invalid scope, and records tree changes in a
//     Changelist.
//   - Reconciling applies the snapshot, replays the changes onto the
//     Applier and dispatches remembered, forgotten and side effects.
//
// Scopes are not re-executed just because an ancestor ran; a scope whose
// arguments compare equal to the previous pass's is skipped.
//
// # Identity
//
// Groups are identified among their siblings by a key derived from the
// call site (slottable.CallSiteKey) and optionally an object key. Use Key
// inside loops so rows keep their remembered values and nodes when the
// list is reordered:
//
//	for _, item := range items {
//	    core.Key(c, item.ID, func(c *core.Composer) { Row(c, item) })
//	}
//
// # Failures
//
// A panic inside a restart scope aborts that scope only. The rest of its
// previous content is kept, the scope is retried on the next pass and the
// pass returns an errors.CompositionError. A violated structural invariant
// (unbalanced groups, a node group without a node) panics with an
// errors.ComposeInternalError, which disposes the composition.
//
// # Hooks
//
// Remember, RememberKeyed, RememberState and RememberDisposable keep
// values across passes. DisposableEffect, LaunchedEffect and SideEffect
// run code once changes are applied. Values implementing RememberObserver
// are told when they enter and leave the composition.
package core
