/*
Package queue provides a FIFO work queue with backpressure awareness. A
Queue is bounded or unbounded; a bounded Queue applies one of three overflow
policies, chosen at construction time, when an offer arrives at capacity:

  - Backpressure: the offering goroutine suspends until a take frees space.
    Every offered element is delivered exactly once, in full FIFO order.
  - Sliding: the oldest element is evicted to make room and the new element
    is accepted. Offer never suspends.
  - Dropping: the new element is discarded and Offer reports false. Offer
    never suspends.

An unbounded Queue never applies a policy; Offer always succeeds
immediately.

Producer/consumer example:

	q, err := queue.New[job]("ingest", 128)
	if err != nil {
		// Handle error
	}

	go func() {
		for _, j := range jobs {
			if _, err := q.Offer(ctx, j); err != nil {
				return // shut down or canceled
			}
		}
	}()

	for {
		j, err := q.Take(ctx)
		if err != nil {
			break // shut down or canceled
		}
		process(j)
	}

Shutdown is terminal: every parked offerer and taker is released with
ErrShutdown and every later operation fails fast.
*/
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gostdlib/coordination/internal/register"
	"github.com/gostdlib/coordination/internal/waitlist"
	"github.com/gostdlib/internals/otel/span"
	"github.com/johnsiilver/calloptions"
	"go.opentelemetry.io/otel/codes"
)

// ErrShutdown is returned by every operation on a Queue after Shutdown has
// been called, including operations that were parked when it was called.
var ErrShutdown = fmt.Errorf("queue is shut down")

// Policy is the overflow policy of a bounded Queue. It is a closed set
// chosen at construction time.
type Policy uint8

const (
	// Backpressure suspends the offerer until space frees.
	Backpressure Policy = 0
	// Sliding evicts the oldest element to admit the new one.
	Sliding Policy = 1
	// Dropping discards the new element.
	Dropping Policy = 2
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case Backpressure:
		return "backpressure"
	case Sliding:
		return "sliding"
	case Dropping:
		return "dropping"
	}
	return "<unknown policy>"
}

type queueOptions struct {
	policy Policy
}

// Option is an option for New().
type Option interface {
	queue()
}

// WithPolicy sets the overflow policy of a bounded Queue. The default is
// Backpressure. This can be used as a:
// - Option
func WithPolicy(p Policy) interface {
	Option
	calloptions.CallOption
} {
	return struct {
		Option
		calloptions.CallOption
	}{
		CallOption: calloptions.New(
			func(a any) error {
				switch t := a.(type) {
				case *queueOptions:
					if p > Dropping {
						return fmt.Errorf("unknown queue Policy %d", p)
					}
					t.policy = p
					return nil
				}
				return fmt.Errorf("WithPolicy can only be used with queue.Option")
			},
		),
	}
}

var _ register.Named = &Queue[any]{}

// Queue is a FIFO queue of elements of type T. Retained elements keep their
// offer order under every policy.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      ring[T]
	capacity int
	policy   Policy
	takers   waitlist.List
	offerers waitlist.List
	shutdown bool
	done     chan struct{}
	name     string
}

// New creates a new Queue. "name" is the name of the queue which is used for
// OTEL metrics and traces; names must be globally unique and if not unique a
// unique name will be created. If name is the empty string, the queue will
// not be registered. Names cannot contain spaces, hyphens, or numbers.
// "capacity" is the most elements the queue will retain; capacity <= 0 is
// unbounded.
func New[T any](name string, capacity int, options ...Option) (*Queue[T], error) {
	if err := register.ValidateBaseName(name); err != nil {
		return nil, err
	}

	opts := queueOptions{}
	if err := calloptions.ApplyOptions(&opts, options); err != nil {
		return nil, err
	}

	q := &Queue[T]{
		name:     name,
		capacity: capacity,
		policy:   opts.policy,
		buf:      newRing[T](capacity),
		done:     make(chan struct{}),
	}

	for {
		if err := register.Register(q); err != nil {
			q.name = register.NewName(name)
			continue
		}
		break
	}
	return q, nil
}

// GetName gets the name of the queue.
func (q *Queue[T]) GetName() string {
	return q.name
}

// Cap returns the capacity the queue was created with. A value <= 0 means
// unbounded.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Policy returns the overflow policy the queue was created with.
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Size returns the number of elements currently retained. The value is
// advisory; by the time it is read another goroutine may have changed it.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.len()
}

func (q *Queue[T]) bounded() bool {
	return q.capacity > 0
}

// Offer adds v to the queue. It reports whether v was accepted: only a
// Dropping queue at capacity reports false. On a Backpressure queue at
// capacity, Offer suspends until a take frees space, ctx is canceled, or the
// queue is shut down.
func (q *Queue[T]) Offer(ctx context.Context, v T) (bool, error) {
	spanner := span.Get(ctx)

	q.mu.Lock()
	// woken marks a waiter that lost the recheck race; it re-parks at the
	// front so a stream of direct offers cannot starve it.
	woken := false
	for {
		if q.shutdown {
			q.mu.Unlock()
			spanner.Status(codes.Error, ErrShutdown.Error())
			return false, ErrShutdown
		}

		if !q.bounded() || q.buf.len() < q.capacity {
			q.buf.push(v)
			q.takers.Wake()
			q.mu.Unlock()
			return true, nil
		}

		switch q.policy {
		case Sliding:
			// Evict synchronously with the offending offer so the length
			// invariant holds again before we return.
			q.buf.pop()
			q.buf.push(v)
			q.takers.Wake()
			q.mu.Unlock()
			return true, nil
		case Dropping:
			q.mu.Unlock()
			return false, nil
		}

		var w *waitlist.Waiter
		if woken {
			w = q.offerers.AddFront(1)
		} else {
			w = q.offerers.Add(1)
		}
		q.mu.Unlock()

		now := time.Now()
		q.blockEvent(spanner, "Offer", now)

		select {
		case <-w.Ready():
			q.unblockEvent(spanner, "Offer", now)
			woken = true
			q.mu.Lock()
		case <-ctx.Done():
			q.mu.Lock()
			if !q.offerers.Remove(w) {
				// The wakeup meant a free slot; hand it to the next
				// parked offerer instead of losing it.
				q.offerers.Wake()
			}
			q.mu.Unlock()
			spanner.Error(ctx.Err())
			return false, ctx.Err()
		}
	}
}

// OfferAll offers each element of vs in order. It reports whether every
// element was accepted (a Dropping queue may discard a suffix). The first
// shutdown or cancellation error stops the calls.
func (q *Queue[T]) OfferAll(ctx context.Context, vs ...T) (bool, error) {
	all := true
	for _, v := range vs {
		ok, err := q.Offer(ctx, v)
		if err != nil {
			return false, err
		}
		if !ok {
			all = false
		}
	}
	return all, nil
}

// Take removes and returns the oldest element. It suspends while the queue
// is empty, under every policy, until an element arrives, ctx is canceled,
// or the queue is shut down.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	spanner := span.Get(ctx)

	q.mu.Lock()
	woken := false
	for {
		if q.shutdown {
			q.mu.Unlock()
			spanner.Status(codes.Error, ErrShutdown.Error())
			return zero, ErrShutdown
		}

		if q.buf.len() > 0 {
			v := q.buf.pop()
			q.offerers.Wake()
			q.mu.Unlock()
			return v, nil
		}

		var w *waitlist.Waiter
		if woken {
			w = q.takers.AddFront(1)
		} else {
			w = q.takers.Add(1)
		}
		q.mu.Unlock()

		now := time.Now()
		q.blockEvent(spanner, "Take", now)

		select {
		case <-w.Ready():
			q.unblockEvent(spanner, "Take", now)
			woken = true
			q.mu.Lock()
		case <-ctx.Done():
			q.mu.Lock()
			if !q.takers.Remove(w) {
				// The wakeup meant an element arrived; pass it on.
				q.takers.Wake()
			}
			q.mu.Unlock()
			spanner.Error(ctx.Err())
			return zero, ctx.Err()
		}
	}
}

// Poll removes and returns the oldest element without suspending. ok is
// false if the queue is empty or shut down.
func (q *Queue[T]) Poll() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown || q.buf.len() == 0 {
		var zero T
		return zero, false
	}
	v = q.buf.pop()
	q.offerers.Wake()
	return v, true
}

// TakeAll removes and returns every retained element without suspending.
// The result is nil if the queue is empty or shut down.
func (q *Queue[T]) TakeAll() []T {
	return q.TakeUpTo(-1)
}

// TakeUpTo removes and returns at most max elements without suspending.
// max < 0 means no limit. The result is nil if the queue is empty or shut
// down.
func (q *Queue[T]) TakeUpTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return nil
	}

	n := q.buf.len()
	if max >= 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.buf.pop())
		q.offerers.Wake()
	}
	return out
}

// TakeBetween removes and returns between min and max elements, suspending
// until at least min have been collected. On cancellation or shutdown before
// min is reached, the elements collected so far are returned along with the
// error; they have already left the queue.
func (q *Queue[T]) TakeBetween(ctx context.Context, min, max int) ([]T, error) {
	if min < 0 || max < 0 {
		return nil, fmt.Errorf("queue.TakeBetween: min(%d) and max(%d) must be >= 0", min, max)
	}
	if min > max {
		return nil, fmt.Errorf("queue.TakeBetween: min(%d) > max(%d)", min, max)
	}

	var out []T
	for {
		got := q.TakeUpTo(max - len(out))
		out = append(out, got...)
		if len(out) >= min {
			return out, nil
		}

		v, err := q.Take(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, v)
		if len(out) >= min {
			return out, nil
		}
	}
}

// Shutdown transitions the queue to its terminal state. Every parked offerer
// and taker is released with ErrShutdown and all later operations fail
// immediately. Retained elements are discarded. Shutdown is idempotent.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return
	}
	q.shutdown = true
	q.buf.clear()
	q.takers.WakeAll()
	q.offerers.WakeAll()
	close(q.done)
	register.Unregister(q)
}

// IsShutdown reports whether Shutdown has been called.
func (q *Queue[T]) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

// AwaitShutdown suspends until Shutdown is called or ctx is canceled.
func (q *Queue[T]) AwaitShutdown(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[T]) blockEvent(spanner span.Span, op string, t time.Time) {
	spanner.Event(
		"Queue."+op+"() blocking....",
		"pkg", "github.com/gostdlib/coordination/queue",
		"name", q.name,
		"policy", q.policy.String(),
		"event", "blocking",
		"latency_ns", time.Since(t),
	)
}

func (q *Queue[T]) unblockEvent(spanner span.Span, op string, t time.Time) {
	spanner.Event(
		"Queue."+op+"() unblocking....",
		"pkg", "github.com/gostdlib/coordination/queue",
		"name", q.name,
		"policy", q.policy.String(),
		"event", "unblocking",
		"latency_ns", time.Since(t),
	)
}
