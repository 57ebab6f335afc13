package queue

// ring is a FIFO buffer over a circular slice. A bounded ring is allocated
// at its full capacity and never grows; an unbounded ring doubles its
// backing slice when full. Not safe for concurrent use; the Queue's lock
// guards it.
type ring[T any] struct {
	items []T
	head  int
	n     int
}

func newRing[T any](capacity int) ring[T] {
	if capacity > 0 {
		return ring[T]{items: make([]T, capacity)}
	}
	return ring[T]{}
}

func (r *ring[T]) len() int { return r.n }

// push appends v. The caller must have checked capacity on a bounded ring.
func (r *ring[T]) push(v T) {
	if r.n == len(r.items) {
		r.grow()
	}
	r.items[(r.head+r.n)%len(r.items)] = v
	r.n++
}

// pop removes and returns the oldest element. The caller must have checked
// that the ring is non-empty.
func (r *ring[T]) pop() T {
	var zero T
	v := r.items[r.head]
	r.items[r.head] = zero // release for GC
	r.head = (r.head + 1) % len(r.items)
	r.n--
	return v
}

func (r *ring[T]) clear() {
	clear(r.items)
	r.head = 0
	r.n = 0
}

// grow doubles the backing slice, linearizing the elements to the front.
func (r *ring[T]) grow() {
	size := len(r.items) * 2
	if size == 0 {
		size = 8
	}
	items := make([]T, size)
	for i := 0; i < r.n; i++ {
		items[i] = r.items[(r.head+i)%len(r.items)]
	}
	r.items = items
	r.head = 0
}
