package hub

import (
	"context"
	"time"

	"github.com/gostdlib/internals/otel/span"
)

// Subscription is one subscriber's private read cursor into a Hub. It is a
// scoped resource: Close it when done so the slots it alone references can
// be reclaimed. A Subscription must not be shared between goroutines.
type Subscription[T any] struct {
	id     string
	h      *Hub[T]
	cursor uint64
	closed bool
}

// ID returns the subscription's unique identifier.
func (s *Subscription[T]) ID() string {
	return s.id
}

// Take suspends until the value at the cursor's position exists, then
// returns it and advances the cursor by one. On a Sliding hub, values the
// hub retired before the subscriber reached them are skipped.
func (s *Subscription[T]) Take(ctx context.Context) (T, error) {
	var zero T
	h := s.h
	spanner := span.Get(ctx)

	h.mu.Lock()
	for {
		if h.shutdown {
			h.mu.Unlock()
			return zero, ErrShutdown
		}
		if s.closed {
			h.mu.Unlock()
			return zero, ErrSubscriptionClosed
		}

		if v, ok := s.consume(); ok {
			h.mu.Unlock()
			return v, nil
		}

		w := h.takers.Add(1)
		h.mu.Unlock()

		now := time.Now()
		s.blockEvent(spanner, now)

		select {
		case <-w.Ready():
			h.mu.Lock()
		case <-ctx.Done():
			h.mu.Lock()
			// Publish wakes every parked taker at once, so a consumed
			// wakeup is not lost for anyone else.
			h.takers.Remove(w)
			h.mu.Unlock()
			spanner.Error(ctx.Err())
			return zero, ctx.Err()
		}
	}
}

// Poll returns the value at the cursor without suspending. ok is false if
// no value is ready, or the subscription or hub is done.
func (s *Subscription[T]) Poll() (v T, ok bool) {
	h := s.h
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown || s.closed {
		var zero T
		return zero, false
	}
	return s.consume()
}

// consume reads the slot under the cursor if it exists, advancing the
// cursor and retiring drained slots. Must be called with h.mu held.
func (s *Subscription[T]) consume() (v T, ok bool) {
	h := s.h

	if s.cursor < h.headSeq {
		// The hub slid past us; skip to the oldest retained value.
		s.cursor = h.headSeq
	}
	if s.cursor >= h.tailSeq {
		var zero T
		return zero, false
	}

	sl := h.at(s.cursor)
	v = sl.value
	sl.remaining--
	s.cursor++
	h.retire()
	return v, true
}

// Close removes the subscription's cursor. Slots that only this subscriber
// still referenced are retired, which can unpark a backpressured publisher.
// Close is idempotent.
func (s *Subscription[T]) Close() {
	h := s.h
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	h.subs--

	if !h.shutdown {
		from := s.cursor
		if from < h.headSeq {
			from = h.headSeq
		}
		for seq := from; seq < h.tailSeq; seq++ {
			h.at(seq).remaining--
		}
		h.retire()
	}
}

func (s *Subscription[T]) blockEvent(spanner span.Span, t time.Time) {
	spanner.Event(
		"Subscription.Take() blocking....",
		"pkg", "github.com/gostdlib/coordination/hub",
		"name", s.h.name,
		"subscription", s.id,
		"event", "blocking",
		"latency_ns", time.Since(t),
	)
}
