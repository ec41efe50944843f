package engine

// ring is a fixed-capacity buffer that overwrites its oldest item.
// Callers synchronize access.
type ring[T any] struct {
	items []T
	next  int
	count int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// ordered returns the items oldest first, or nil when empty.
func (r *ring[T]) ordered() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, 0, r.count)
	if r.count == len(r.items) {
		out = append(out, r.items[r.next:]...)
		return append(out, r.items[:r.next]...)
	}
	return append(out, r.items[:r.count]...)
}
