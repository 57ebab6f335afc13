package ref

import (
	"context"
)

// Synchronized is a Ref whose update functions may block, suspend or perform
// I/O. Because an effectful function cannot be safely re-run the way Ref
// re-runs a pure one, updates are serialized under true mutual exclusion: at
// most one update is in flight, the rest queue on the lock in arrival order.
//
// This is strictly higher overhead than Ref. Use it only when the update
// logic is unavoidably effectful.
type Synchronized[T any] struct {
	// lk is a one slot channel used as the lock so that acquisition can be
	// abandoned on Context cancellation. Holding the token means holding
	// the lock.
	lk chan struct{}
	v  T
}

// NewSynchronized creates a Synchronized holding v.
func NewSynchronized[T any](v T) *Synchronized[T] {
	s := &Synchronized[T]{lk: make(chan struct{}, 1), v: v}
	return s
}

func (s *Synchronized[T]) lock(ctx context.Context) error {
	select {
	case s.lk <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.lk <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synchronized[T]) unlock() {
	<-s.lk
}

// Get returns the current value. It takes the lock, so it observes no update
// mid-flight.
func (s *Synchronized[T]) Get(ctx context.Context) (T, error) {
	if err := s.lock(ctx); err != nil {
		var zero T
		return zero, err
	}
	v := s.v
	s.unlock()
	return v, nil
}

// Set replaces the current value with v once any in-flight update finishes.
func (s *Synchronized[T]) Set(ctx context.Context, v T) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	s.v = v
	s.unlock()
	return nil
}

// Update atomically replaces the current value v with f(ctx, v). f runs
// exactly once, while no other update is in flight. If f returns an error
// the value is left unchanged and the error is returned. If ctx is canceled
// while waiting for the lock, the value is untouched and ctx.Err() is
// returned.
func (s *Synchronized[T]) Update(ctx context.Context, f func(context.Context, T) (T, error)) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	v, err := f(ctx, s.v)
	if err != nil {
		return err
	}
	s.v = v
	return nil
}

// ModifyCtx atomically replaces the value v held by s with the second
// component of f(ctx, v) and returns the first component. It is the
// effectful counterpart of Modify and runs f exactly once under the lock.
// An error from f leaves the value unchanged.
func ModifyCtx[T, B any](ctx context.Context, s *Synchronized[T], f func(context.Context, T) (B, T, error)) (B, error) {
	var zero B
	if err := s.lock(ctx); err != nil {
		return zero, err
	}
	defer s.unlock()

	b, v, err := f(ctx, s.v)
	if err != nil {
		return zero, err
	}
	s.v = v
	return b, nil
}
