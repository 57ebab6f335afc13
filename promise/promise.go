/*
Package promise provides a single assignment synchronizer. A Promise starts
out pending and is completed exactly once, by whichever goroutine wins the
race to complete it. Every awaiter observes the same winning Outcome.

Basic example, handing a result from a worker to any number of awaiters:

	p := promise.New[string]()

	go func() {
		v, err := fetch(ctx)
		if err != nil {
			p.Fail(err)
			return
		}
		p.Succeed(v)
	}()

	out, err := p.Await(ctx)
	if err != nil {
		// ctx was canceled while waiting, the promise is untouched.
	}
	switch {
	case out.Succeeded():
		fmt.Println(out.Value())
	case out.Failed():
		fmt.Println(out.Err())
	case out.Interrupted():
		// The producing task was interrupted before it produced anything.
	}

Completion methods report whether the caller won the race via their bool
return. Losing the race is not an error.
*/
package promise

import (
	"context"
	"sync/atomic"
)

// State is the tag of an Outcome.
type State uint8

const (
	// Succeeded indicates the promise was completed with a value.
	Succeeded State = iota
	// Failed indicates the promise was completed with an error.
	Failed
	// Interrupted indicates the producing task was interrupted before it
	// could supply a value or an error. It is distinct from failure.
	Interrupted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	}
	return "<unknown state>"
}

// Outcome is the recorded completion of a Promise.
type Outcome[T any] struct {
	state State
	value T
	err   error
}

// Success returns an Outcome carrying v.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{state: Succeeded, value: v}
}

// Failure returns an Outcome carrying err.
func Failure[T any](err error) Outcome[T] {
	return Outcome[T]{state: Failed, err: err}
}

// Interrupt returns an Outcome with the Interrupted tag.
func Interrupt[T any]() Outcome[T] {
	return Outcome[T]{state: Interrupted}
}

// State returns the outcome's tag.
func (o Outcome[T]) State() State { return o.state }

// Value returns the success value. It is the zero value unless Succeeded.
func (o Outcome[T]) Value() T { return o.value }

// Err returns the failure error. It is nil unless Failed.
func (o Outcome[T]) Err() error { return o.err }

// Succeeded reports whether the outcome carries a value.
func (o Outcome[T]) Succeeded() bool { return o.state == Succeeded }

// Failed reports whether the outcome carries an error.
func (o Outcome[T]) Failed() bool { return o.state == Failed }

// Interrupted reports whether the producing task was interrupted.
func (o Outcome[T]) Interrupted() bool { return o.state == Interrupted }

// Promise is a single assignment cell that goroutines can await. The zero
// value is not usable; create one with New.
type Promise[T any] struct {
	// completing is won exactly once with a compare and swap. The winner is
	// the only writer of out.
	completing atomic.Bool

	// out is written once by the completing winner, before done is closed.
	// Nothing reads it until done is closed.
	out Outcome[T]

	// done is closed once out is in place. Closing is the broadcast that
	// wakes every awaiter at once.
	done chan struct{}
}

// New creates a pending Promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Succeed completes the promise with v. It reports whether this call won the
// completion race; a false return means the promise was already done and
// nothing changed.
func (p *Promise[T]) Succeed(v T) bool {
	return p.CompleteWith(Success(v))
}

// Fail completes the promise with err, under the same exactly once rule as
// Succeed.
func (p *Promise[T]) Fail(err error) bool {
	return p.CompleteWith(Failure[T](err))
}

// Interrupt completes the promise with the Interrupted outcome, under the
// same exactly once rule as Succeed.
func (p *Promise[T]) Interrupt() bool {
	return p.CompleteWith(Interrupt[T]())
}

// CompleteWith records o as the promise's outcome if it is still pending and
// wakes every awaiter. It reports whether this call won the completion race.
func (p *Promise[T]) CompleteWith(o Outcome[T]) bool {
	if !p.completing.CompareAndSwap(false, true) {
		return false
	}
	p.out = o
	close(p.done)
	return true
}

// Poll returns the outcome without blocking. ok is false while the promise
// is pending.
func (p *Promise[T]) Poll() (out Outcome[T], ok bool) {
	select {
	case <-p.done:
		return p.out, true
	default:
		return Outcome[T]{}, false
	}
}

// Await blocks until the promise is completed and returns the winning
// outcome. If ctx is canceled first, Await returns ctx.Err() and the promise
// is unaffected; no other awaiter loses its wakeup.
func (p *Promise[T]) Await(ctx context.Context) (Outcome[T], error) {
	select {
	case <-p.done:
		return p.out, nil
	default:
	}

	select {
	case <-p.done:
		return p.out, nil
	case <-ctx.Done():
		return Outcome[T]{}, ctx.Err()
	}
}

// Done returns a channel that is closed when the promise completes. It can
// be used in a select alongside other channels.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}
