// Package errors provides structured error handling for the recompose runtime.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindIllegalWrite indicates a write against a read-only snapshot.
	KindIllegalWrite
	// KindApplyConflict indicates a snapshot apply that could not merge.
	KindApplyConflict
	// KindInternal indicates a violated slot table or composer invariant.
	KindInternal
	// KindPanic indicates a recovered panic.
	KindPanic
	// KindComposition indicates an application error raised by a composable.
	KindComposition
	// KindLifecycle indicates use of a closed coordinator, snapshot or recomposer.
	KindLifecycle
)

func (k ErrorKind) String() string {
	switch k {
	case KindIllegalWrite:
		return "illegal-write"
	case KindApplyConflict:
		return "apply-conflict"
	case KindInternal:
		return "internal"
	case KindPanic:
		return "panic"
	case KindComposition:
		return "composition"
	case KindLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

var (
	// ErrIllegalWrite is returned when a state object is written through a
	// read-only snapshot. It is never retried.
	ErrIllegalWrite = stderrors.New("write to a read-only snapshot")
	// ErrSnapshotClosed is returned when a snapshot is used after apply or dispose.
	ErrSnapshotClosed = stderrors.New("snapshot is closed")
	// ErrNestedSnapshotOpen is returned when a parent is applied while a child is open.
	ErrNestedSnapshotOpen = stderrors.New("nested snapshot still open")
	// ErrCoordinatorClosed is returned when a coordinator is used after Close.
	ErrCoordinatorClosed = stderrors.New("snapshot coordinator is closed")
	// ErrCompositionDisposed is returned when a disposed composition is driven.
	ErrCompositionDisposed = stderrors.New("composition is disposed")
	// ErrRecomposerClosed is returned when a closed recomposer is driven.
	ErrRecomposerClosed = stderrors.New("recomposer is closed")
)

// RuntimeError represents a structured error in the runtime.
type RuntimeError struct {
	// Op is the operation that failed (e.g., "recomposer.pass").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
	// Composition is the id of the composition involved, if any.
	Composition string
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *RuntimeError) Error() string {
	if e.Composition != "" {
		return fmt.Sprintf("%s [%s] composition=%s: %v", e.Op, e.Kind, e.Composition, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "recomposer.Run").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// ApplyConflictError is returned when a snapshot apply finds a state object
// written concurrently by another snapshot and its merge policy declined.
// Callers may retry by redoing their logic in a fresh snapshot.
type ApplyConflictError struct {
	// Snapshot is the id of the snapshot that failed to apply.
	Snapshot int64
	// Conflicts is the number of state objects that could not be merged.
	Conflicts int
	// Objects describes the conflicting state objects.
	Objects []string
}

func (e *ApplyConflictError) Error() string {
	return fmt.Sprintf("snapshot %d apply conflict on %d state object(s) %v", e.Snapshot, e.Conflicts, e.Objects)
}

// Is reports whether target is an apply conflict, so that
// errors.Is(err, &ApplyConflictError{}) matches any conflict.
func (e *ApplyConflictError) Is(target error) bool {
	_, ok := target.(*ApplyConflictError)
	return ok
}

// ComposeInternalError reports a violated slot table or composer invariant,
// for example mismatched begin/end group calls. It is fatal for the
// composition and indicates a bug in how composables structure their groups.
type ComposeInternalError struct {
	// Op is the slot table or composer operation that detected the problem.
	Op string
	// Detail describes the violated invariant.
	Detail string
	// Group is the group index involved, or -1.
	Group int
}

func (e *ComposeInternalError) Error() string {
	if e.Group >= 0 {
		return fmt.Sprintf("compose internal error in %s at group %d: %s", e.Op, e.Group, e.Detail)
	}
	return fmt.Sprintf("compose internal error in %s: %s", e.Op, e.Detail)
}

// Internal panics with a ComposeInternalError.
func Internal(op string, group int, format string, args ...any) {
	panic(&ComposeInternalError{Op: op, Group: group, Detail: fmt.Sprintf(format, args...)})
}

// CompositionError represents a failure raised by a composable while it was
// executing. The failing scope stays invalid and is retried on the next pass.
type CompositionError struct {
	// Composition is the id of the composition.
	Composition string
	// Scope describes the restart scope that failed.
	Scope string
	// Recovered is the panic value (nil for regular errors).
	Recovered any
	// Err is the underlying error (nil for panics of non-error values).
	Err error
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *CompositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error in composable %s: %v", e.Scope, e.Err)
	}
	if e.Recovered != nil {
		return fmt.Sprintf("panic in composable %s: %v", e.Scope, e.Recovered)
	}
	return fmt.Sprintf("unknown error in composable %s", e.Scope)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives errors reported by the runtime.
type ErrorHandler interface {
	// HandleError is called when an error occurs.
	HandleError(err *RuntimeError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
	// HandleCompositionError is called when a composable fails.
	HandleCompositionError(err *CompositionError)
}

// Re-exported helpers so callers can use a single errors import.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	New    = stderrors.New
	Join   = stderrors.Join
	Unwrap = stderrors.Unwrap
)
