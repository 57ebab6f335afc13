/*
Package semaphore provides a permit based concurrency limiter with strict
FIFO queuing of blocked acquirers.

A Semaphore is created with a fixed number of permits. Acquire suspends the
calling goroutine until its request can be granted AND every earlier queued
request has already been granted; a request never barges past an earlier one
just because enough permits happen to be free. This head-of-line discipline
trades a little throughput for freedom from starvation.

Scoped use, which releases on every exit path:

	sem, err := semaphore.New("scraper", 10)
	if err != nil {
		// Handle error
	}

	err = sem.WithPermits(ctx, 1, func(ctx context.Context) error {
		return fetch(ctx, url)
	})

"name" is used for OTEL span events in the same way pool names are used in
the goroutines packages.
*/
package semaphore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gostdlib/coordination/internal/register"
	"github.com/gostdlib/coordination/internal/waitlist"
	"github.com/gostdlib/internals/otel/span"
)

// ErrRequestTooLarge is returned by Acquire when the requested number of
// permits exceeds the semaphore's total. Such a request could never be
// satisfied; failing fast beats deadlocking silently.
var ErrRequestTooLarge = fmt.Errorf("request exceeds the semaphore's total permits")

var _ register.Named = &Semaphore{}

// Semaphore is a counter of permits. The permit count never goes negative
// and permits released by a holder are returned exactly once.
type Semaphore struct {
	mu      sync.Mutex
	size    int64
	cur     int64 // permits currently held
	waiters waitlist.List
	name    string
}

// New creates a Semaphore with the given total number of permits. "name" is
// the name of the semaphore which is used for OTEL metrics and traces. Names
// must be globally unique; if not unique, a unique name will be created. If
// name is the empty string, the semaphore will not be registered. Names
// cannot contain spaces, hyphens, or numbers.
func New(name string, permits int64) (*Semaphore, error) {
	if permits < 1 {
		return nil, fmt.Errorf("cannot have a Semaphore with permits < 1")
	}
	if err := register.ValidateBaseName(name); err != nil {
		return nil, err
	}

	s := &Semaphore{name: name, size: permits}

	for {
		if err := register.Register(s); err != nil {
			s.name = register.NewName(name)
			continue
		}
		break
	}
	return s, nil
}

// GetName gets the name of the semaphore.
func (s *Semaphore) GetName() string {
	return s.name
}

// Permits returns the total number of permits the semaphore was created
// with.
func (s *Semaphore) Permits() int64 {
	return s.size
}

// Available returns the number of permits not currently held. The value is
// advisory; by the time it is read another goroutine may have changed it.
func (s *Semaphore) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size - s.cur
}

// Acquire suspends the caller until n permits are available and all earlier
// queued requests have been granted, then takes the permits. If ctx is
// canceled while waiting, the caller is removed from the queue with no
// effect on the permit count and ctx.Err() is returned. If n is larger than
// the semaphore's total, ErrRequestTooLarge is returned immediately.
func (s *Semaphore) Acquire(ctx context.Context, n int64) error {
	if n < 0 {
		panic("semaphore: negative permit count")
	}

	s.mu.Lock()
	if s.waiters.Len() == 0 && s.size-s.cur >= n {
		s.cur += n
		s.mu.Unlock()
		return nil
	}
	if n > s.size {
		s.mu.Unlock()
		return ErrRequestTooLarge
	}
	w := s.waiters.Add(n)
	s.mu.Unlock()

	spanner := span.Get(ctx)
	now := time.Now()
	s.blockEvent(spanner, n, now)

	select {
	case <-w.Ready():
		// The releaser moved our permits to us before waking us.
		s.unblockEvent(spanner, n, now)
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if !s.waiters.Remove(w) {
			// Woken and canceled at the same time. The grant already
			// happened, so give the permits back.
			s.cur -= n
			s.notify()
		}
		s.mu.Unlock()
		spanner.Error(ctx.Err())
		return ctx.Err()
	}
}

// TryAcquire takes n permits without suspending. It reports whether the
// permits were taken. It fails if the permits are free but an earlier
// request is still queued; barging would starve the queue head.
func (s *Semaphore) TryAcquire(n int64) bool {
	if n < 0 {
		panic("semaphore: negative permit count")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiters.Len() == 0 && s.size-s.cur >= n {
		s.cur += n
		return true
	}
	return false
}

// Release returns n permits and grants queued requests in FIFO order,
// re-checking availability after each grant and stopping at the first
// request it cannot yet satisfy. Release panics if it would return more
// permits than are held.
func (s *Semaphore) Release(n int64) {
	if n < 0 {
		panic("semaphore: negative permit count")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.cur {
		panic("semaphore: released more permits than held")
	}
	s.cur -= n
	s.notify()
}

// notify grants to the head of the queue while it can be satisfied. Must be
// called with s.mu held.
func (s *Semaphore) notify() {
	for {
		head := s.waiters.Peek()
		if head == nil || s.size-s.cur < head.N() {
			return
		}
		s.cur += head.N()
		s.waiters.Wake()
	}
}

// WithPermits acquires n permits, runs f and releases the permits on every
// exit path: normal return, error or panic. The error from Acquire or f is
// returned.
func (s *Semaphore) WithPermits(ctx context.Context, n int64, f func(ctx context.Context) error) error {
	if err := s.Acquire(ctx, n); err != nil {
		return err
	}
	defer s.Release(n)
	return f(ctx)
}

func (s *Semaphore) blockEvent(spanner span.Span, n int64, t time.Time) {
	spanner.Event(
		"Semaphore.Acquire() blocking....",
		"pkg", "github.com/gostdlib/coordination/semaphore",
		"name", s.name,
		"permits", n,
		"event", "blocking",
		"acquire_latency_ns", time.Since(t),
	)
}

func (s *Semaphore) unblockEvent(spanner span.Span, n int64, t time.Time) {
	spanner.Event(
		"Semaphore.Acquire() unblocking....",
		"pkg", "github.com/gostdlib/coordination/semaphore",
		"name", s.name,
		"permits", n,
		"event", "unblocking",
		"acquire_latency_ns", time.Since(t),
	)
}
