// Package cell provides an atomic single-slot container that is not provided
// by the sync/atomic package. It is the substrate for the lock free retry
// loops used by the ref and promise packages.
package cell

import (
	"sync/atomic"
)

// Cell holds a single value of type T that can be read and replaced
// atomically. Replacing must always be done with a new value and never by
// modifying the current value in place; readers may hold a snapshot of the
// old value at any time. T should not be a pointer.
//
// The zero Cell holds the zero value of T.
type Cell[T any] struct {
	v atomic.Pointer[T]
}

// New creates a Cell holding v.
func New[T any](v T) *Cell[T] {
	c := &Cell[T]{}
	c.v.Store(&v)
	return c
}

// Load returns the current value.
func (c *Cell[T]) Load() T {
	p := c.v.Load()
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// Store unconditionally replaces the current value with v.
func (c *Cell[T]) Store(v T) {
	c.v.Store(&v)
}

// Snapshot returns a pointer identifying the current value. The pointer is
// the token for a later Swap; the pointed-to value must not be modified.
func (c *Cell[T]) Snapshot() *T {
	return c.v.Load()
}

// Swap replaces the current value with v only if the current value is still
// the one identified by old (a pointer obtained from Snapshot). It reports
// whether the replacement happened. A false return means another writer got
// in first and the caller should re-run its computation from a fresh
// Snapshot.
func (c *Cell[T]) Swap(old *T, v T) bool {
	return c.v.CompareAndSwap(old, &v)
}
