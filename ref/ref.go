/*
Package ref provides shared mutable variables with explicit atomicity
contracts, replacing informally guarded shared memory.

Ref is the cheap variant: updates are pure functions applied in an optimistic
compare and swap loop. Synchronized is the expensive variant: the update
function may block or suspend, so a real lock serializes updates. Use Ref
unless the update logic is unavoidably effectful.

Counting example:

	r := ref.New(0)

	var g task.Group
	for i := 0; i < 100; i++ {
		g.Go(ctx, func(context.Context) error {
			r.Update(func(v int) int { return v + 1 })
			return nil
		})
	}
	g.Wait(ctx)
	fmt.Println(r.Get()) // 100, never less
*/
package ref

import (
	"github.com/gostdlib/coordination/internal/cell"
)

// Ref holds exactly one value of type T at all times. Every externally
// observable transition is atomic: a reader only ever sees the pre image or
// the post image of an update, never a partial one. Concurrent updates are
// linearizable, with no lost updates.
//
// Update functions must be pure. On contention they are re-run from a fresh
// read, so any side effect would be repeated.
type Ref[T any] struct {
	c *cell.Cell[T]
}

// New creates a Ref holding v.
func New[T any](v T) *Ref[T] {
	return &Ref[T]{c: cell.New(v)}
}

// Get returns an atomic snapshot of the current value.
func (r *Ref[T]) Get() T {
	return r.c.Load()
}

// Set unconditionally replaces the current value with v. Get followed by Set
// is NOT one atomic unit; callers that need read-then-write atomicity must
// use Update or Modify.
func (r *Ref[T]) Set(v T) {
	r.c.Store(v)
}

// GetAndSet replaces the current value with v and returns the value that was
// replaced, as one atomic step.
func (r *Ref[T]) GetAndSet(v T) T {
	for {
		old := r.c.Snapshot()
		if r.c.Swap(old, v) {
			return *old
		}
	}
}

// Update atomically replaces the current value v with f(v). On contention
// the read and f are re-run as a whole until the swap lands.
func (r *Ref[T]) Update(f func(T) T) {
	for {
		old := r.c.Snapshot()
		if r.c.Swap(old, f(*old)) {
			return
		}
	}
}

// GetAndUpdate is Update returning the value before the update.
func (r *Ref[T]) GetAndUpdate(f func(T) T) T {
	for {
		old := r.c.Snapshot()
		if r.c.Swap(old, f(*old)) {
			return *old
		}
	}
}

// UpdateAndGet is Update returning the value after the update.
func (r *Ref[T]) UpdateAndGet(f func(T) T) T {
	for {
		old := r.c.Snapshot()
		v := f(*old)
		if r.c.Swap(old, v) {
			return v
		}
	}
}

// Modify atomically replaces the current value v with the second component
// of f(v) and returns the first component. Update is Modify with the
// returned value discarded. The read, the computation of the pair and the
// swap are re-executed as a whole on contention, never partially.
//
// This is a function rather than a method because methods cannot introduce
// the extra type parameter B.
func Modify[T, B any](r *Ref[T], f func(T) (B, T)) B {
	for {
		old := r.c.Snapshot()
		b, v := f(*old)
		if r.c.Swap(old, v) {
			return b
		}
	}
}
