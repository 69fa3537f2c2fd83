package ws

// Ring is a fixed-capacity FIFO that evicts the oldest item when full.
// It is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	start int
	size  int
}

// NewRing creates a ring holding at most capacity items
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when full
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
}

// Items returns the buffered items, oldest first
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Len returns the number of buffered items
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the capacity
func (r *Ring[T]) Cap() int {
	return len(r.items)
}
