package snapshot

import "reflect"

// MutationPolicy controls how a state object compares and merges values.
//
// Equivalent decides whether a write changes the state at all; equivalent
// writes are dropped and do not invalidate readers. Merge is consulted at
// apply time when another snapshot committed a different value after the
// applying snapshot was opened. It returns the resolved value and true, or
// false to decline, in which case the apply fails with a conflict.
type MutationPolicy[T any] interface {
	Equivalent(a, b T) bool
	Merge(previous, current, applied T) (T, bool)
}

type structuralPolicy[T any] struct{}

func (structuralPolicy[T]) Equivalent(a, b T) bool { return reflect.DeepEqual(a, b) }

func (structuralPolicy[T]) Merge(_, _, applied T) (T, bool) { return applied, false }

// StructuralEqualityPolicy treats deeply equal values as equivalent. It is
// the default policy and never merges.
func StructuralEqualityPolicy[T any]() MutationPolicy[T] { return structuralPolicy[T]{} }

type referentialPolicy[T any] struct{}

func (referentialPolicy[T]) Equivalent(a, b T) bool { return identical(a, b) }

func (referentialPolicy[T]) Merge(_, _, applied T) (T, bool) { return applied, false }

// ReferentialEqualityPolicy treats values as equivalent only when they are
// identical: equal for comparable scalars, the same backing pointer for maps,
// slices, channels, funcs and pointers.
func ReferentialEqualityPolicy[T any]() MutationPolicy[T] { return referentialPolicy[T]{} }

type neverEqualPolicy[T any] struct{}

func (neverEqualPolicy[T]) Equivalent(_, _ T) bool { return false }

func (neverEqualPolicy[T]) Merge(_, _, applied T) (T, bool) { return applied, false }

// NeverEqualPolicy treats every write as a change.
func NeverEqualPolicy[T any]() MutationPolicy[T] { return neverEqualPolicy[T]{} }

type mergingPolicy[T any] struct {
	MutationPolicy[T]
	merge func(previous, current, applied T) (T, bool)
}

func (p mergingPolicy[T]) Merge(previous, current, applied T) (T, bool) {
	return p.merge(previous, current, applied)
}

// WithMerge returns policy with its merge replaced by fn.
func WithMerge[T any](policy MutationPolicy[T], fn func(previous, current, applied T) (T, bool)) MutationPolicy[T] {
	return mergingPolicy[T]{MutationPolicy: policy, merge: fn}
}

func identical(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		if va.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}
