/*
Package hub provides a publish/subscribe broadcast primitive. Unlike a
queue, where one consumer removes each element, every subscriber of a Hub
receives every value published during its subscription, in publish order.

Internally the hub keeps one shared append-only ring of published values
with a monotonically increasing sequence number. Each subscription owns a
private read cursor into that ring, so values are never copied per
subscriber; a ring slot is retired once every live subscriber has read past
it.

	h, err := hub.New[string]("events", 64)
	if err != nil {
		// Handle error
	}

	sub, err := h.Subscribe()
	if err != nil {
		// Handle error
	}
	defer sub.Close()

	go h.Publish(ctx, "x")

	v, err := sub.Take(ctx) // "x"

A subscriber never sees values published before it subscribed. When the ring
is full because the slowest live subscriber has not advanced past the oldest
retained value, Publish applies the hub's policy: Backpressure (suspend the
publisher), Sliding (retire the oldest value, lagging subscribers skip
forward) or Dropping (discard the new value).
*/
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gostdlib/coordination/internal/register"
	"github.com/gostdlib/coordination/internal/waitlist"
	"github.com/gostdlib/internals/otel/span"
	"github.com/johnsiilver/calloptions"
	"go.opentelemetry.io/otel/codes"
)

// ErrShutdown is returned by every operation on a Hub after Shutdown has
// been called, including operations that were parked when it was called.
var ErrShutdown = fmt.Errorf("hub is shut down")

// ErrSubscriptionClosed is returned by Take on a Subscription whose Close
// has been called.
var ErrSubscriptionClosed = fmt.Errorf("subscription is closed")

// Policy decides what Publish does when the ring is full because the
// slowest live subscriber is still behind the oldest retained value. It is
// a closed set chosen at construction time.
type Policy uint8

const (
	// Backpressure suspends the publisher until the slowest subscriber
	// advances.
	Backpressure Policy = 0
	// Sliding retires the oldest value; subscribers that had not read it
	// miss it and skip forward.
	Sliding Policy = 1
	// Dropping discards the new value.
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

type hubOptions struct {
	policy Policy
}

// Option is an option for New().
type Option interface {
	hub()
}

// WithPolicy sets the policy applied when the ring is full. The default is
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
				case *hubOptions:
					if p > Dropping {
						return fmt.Errorf("unknown hub Policy %d", p)
					}
					t.policy = p
					return nil
				}
				return fmt.Errorf("WithPolicy can only be used with hub.Option")
			},
		),
	}
}

// slot is one published value plus the number of live subscribers that have
// not read it yet. When remaining hits zero and the slot is the oldest, it
// is retired.
type slot[T any] struct {
	value     T
	remaining int
}

var _ register.Named = &Hub[any]{}

// Hub is a broadcast channel of values of type T.
type Hub[T any] struct {
	mu       sync.Mutex
	slots    []slot[T]
	headSeq  uint64 // sequence number of the oldest retained slot
	tailSeq  uint64 // next write position; the hub's current sequence number
	subs     int
	takers   waitlist.List // parked Subscription.Take callers
	pubs     waitlist.List // parked publishers (Backpressure)
	shutdown bool
	done     chan struct{}
	name     string
	policy   Policy
}

// New creates a new Hub. "name" is the name of the hub which is used for
// OTEL metrics and traces; names must be globally unique and if not unique
// a unique name will be created. If name is the empty string, the hub will
// not be registered. Names cannot contain spaces, hyphens, or numbers.
// "capacity" is the number of ring slots and must be >= 1.
func New[T any](name string, capacity int, options ...Option) (*Hub[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cannot have a Hub with capacity < 1")
	}
	if err := register.ValidateBaseName(name); err != nil {
		return nil, err
	}

	opts := hubOptions{}
	if err := calloptions.ApplyOptions(&opts, options); err != nil {
		return nil, err
	}

	h := &Hub[T]{
		name:   name,
		slots:  make([]slot[T], capacity),
		policy: opts.policy,
		done:   make(chan struct{}),
	}

	for {
		if err := register.Register(h); err != nil {
			h.name = register.NewName(name)
			continue
		}
		break
	}
	return h, nil
}

// GetName gets the name of the hub.
func (h *Hub[T]) GetName() string {
	return h.name
}

// Cap returns the number of ring slots.
func (h *Hub[T]) Cap() int {
	return len(h.slots)
}

// Policy returns the policy the hub was created with.
func (h *Hub[T]) Policy() Policy {
	return h.policy
}

// Size returns the number of values currently retained for at least one
// subscriber. The value is advisory.
func (h *Hub[T]) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.tailSeq - h.headSeq)
}

// Subscribers returns the number of live subscriptions.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs
}

func (h *Hub[T]) at(seq uint64) *slot[T] {
	return &h.slots[seq%uint64(len(h.slots))]
}

// Publish appends v to the hub, advances the sequence number and wakes any
// subscriber suspended on a take that is now satisfiable. It reports whether
// v was admitted: only a Dropping hub at capacity reports false. A value
// published while there are no live subscribers is admitted and immediately
// retired.
func (h *Hub[T]) Publish(ctx context.Context, v T) (bool, error) {
	spanner := span.Get(ctx)

	h.mu.Lock()
	// woken marks a publisher that lost the recheck race; it re-parks at the
	// front so a stream of direct publishes cannot starve it.
	woken := false
	for {
		if h.shutdown {
			h.mu.Unlock()
			spanner.Status(codes.Error, ErrShutdown.Error())
			return false, ErrShutdown
		}

		if h.subs == 0 {
			// No cursor will ever reference this value.
			h.headSeq++
			h.tailSeq++
			h.mu.Unlock()
			return true, nil
		}

		if int(h.tailSeq-h.headSeq) < len(h.slots) {
			*h.at(h.tailSeq) = slot[T]{value: v, remaining: h.subs}
			h.tailSeq++
			h.takers.WakeAll()
			h.mu.Unlock()
			return true, nil
		}

		switch h.policy {
		case Sliding:
			// The slowest subscribers lose the oldest value and skip
			// forward when they next take.
			h.headSeq++
			*h.at(h.tailSeq) = slot[T]{value: v, remaining: h.subs}
			h.tailSeq++
			h.takers.WakeAll()
			h.mu.Unlock()
			return true, nil
		case Dropping:
			h.mu.Unlock()
			return false, nil
		}

		var w *waitlist.Waiter
		if woken {
			w = h.pubs.AddFront(1)
		} else {
			w = h.pubs.Add(1)
		}
		h.mu.Unlock()

		now := time.Now()
		h.blockEvent(spanner, now)

		select {
		case <-w.Ready():
			h.unblockEvent(spanner, now)
			woken = true
			h.mu.Lock()
		case <-ctx.Done():
			h.mu.Lock()
			if !h.pubs.Remove(w) {
				// The wakeup meant a retired slot; hand it to the next
				// parked publisher instead of losing it.
				h.pubs.Wake()
			}
			h.mu.Unlock()
			spanner.Error(ctx.Err())
			return false, ctx.Err()
		}
	}
}

// PublishAll publishes each element of vs in order. It reports whether every
// element was admitted. The first shutdown or cancellation error stops the
// calls.
func (h *Hub[T]) PublishAll(ctx context.Context, vs ...T) (bool, error) {
	all := true
	for _, v := range vs {
		ok, err := h.Publish(ctx, v)
		if err != nil {
			return false, err
		}
		if !ok {
			all = false
		}
	}
	return all, nil
}

// Subscribe creates a Subscription whose cursor starts at the hub's current
// write position: the subscriber observes every value published after this
// call and none published before.
func (h *Hub[T]) Subscribe() (*Subscription[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return nil, ErrShutdown
	}
	h.subs++
	return &Subscription[T]{
		id:     uuid.NewString(),
		h:      h,
		cursor: h.tailSeq,
	}, nil
}

// retire advances over oldest slots that no live cursor references, waking
// one parked publisher per freed slot. Must be called with h.mu held.
func (h *Hub[T]) retire() {
	for h.headSeq < h.tailSeq && h.at(h.headSeq).remaining <= 0 {
		*h.at(h.headSeq) = slot[T]{}
		h.headSeq++
		h.pubs.Wake()
	}
}

// Shutdown transitions the hub to its terminal state. Every parked publisher
// and subscriber is released with ErrShutdown and all later operations fail
// immediately. Shutdown is idempotent.
func (h *Hub[T]) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return
	}
	h.shutdown = true
	clear(h.slots)
	h.headSeq = h.tailSeq
	h.takers.WakeAll()
	h.pubs.WakeAll()
	close(h.done)
	register.Unregister(h)
}

// IsShutdown reports whether Shutdown has been called.
func (h *Hub[T]) IsShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdown
}

// AwaitShutdown suspends until Shutdown is called or ctx is canceled.
func (h *Hub[T]) AwaitShutdown(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub[T]) blockEvent(spanner span.Span, t time.Time) {
	spanner.Event(
		"Hub.Publish() blocking....",
		"pkg", "github.com/gostdlib/coordination/hub",
		"name", h.name,
		"policy", h.policy.String(),
		"event", "blocking",
		"latency_ns", time.Since(t),
	)
}

func (h *Hub[T]) unblockEvent(spanner span.Span, t time.Time) {
	spanner.Event(
		"Hub.Publish() unblocking....",
		"pkg", "github.com/gostdlib/coordination/hub",
		"name", h.name,
		"policy", h.policy.String(),
		"event", "unblocking",
		"latency_ns", time.Since(t),
	)
}
