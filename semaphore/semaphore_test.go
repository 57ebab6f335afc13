package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphoreNew(t *testing.T) {
	tests := []struct {
		desc    string
		name    string
		permits int64
		wantErr bool
	}{
		{desc: "Error: permits < 1", name: "", permits: 0, wantErr: true},
		{desc: "Error: invalid name", name: "bad-name", permits: 1, wantErr: true},
		{desc: "Success: unregistered", name: "", permits: 5},
	}

	for _, test := range tests {
		s, err := New(test.name, test.permits)
		switch {
		case err == nil && test.wantErr:
			t.Errorf("TestSemaphoreNew(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.wantErr:
			t.Errorf("TestSemaphoreNew(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if s.Permits() != test.permits {
			t.Errorf("TestSemaphoreNew(%s): Permits(): got %d, want %d", test.desc, s.Permits(), test.permits)
		}
	}
}

func TestSemaphoreMutualExclusion(t *testing.T) {
	const holders = 3
	const hold = 50 * time.Millisecond

	ctx := context.Background()
	s, err := New("", 1)
	if err != nil {
		t.Fatalf("TestSemaphoreMutualExclusion: %s", err)
	}

	var inside atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithPermits(ctx, 1, func(ctx context.Context) error {
				if n := inside.Add(1); n != 1 {
					t.Errorf("TestSemaphoreMutualExclusion: %d holders at once, want 1", n)
				}
				time.Sleep(hold)
				inside.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("TestSemaphoreMutualExclusion: WithPermits(): %s", err)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < holders*hold {
		t.Errorf("TestSemaphoreMutualExclusion: finished in %s, want >= %s", elapsed, holders*hold)
	}
	if s.Available() != 1 {
		t.Errorf("TestSemaphoreMutualExclusion: %d permits available after, want 1", s.Available())
	}
}

func TestSemaphoreFIFO(t *testing.T) {
	ctx := context.Background()
	s, err := New("", 1)
	if err != nil {
		t.Fatalf("TestSemaphoreFIFO: %s", err)
	}

	if err := s.Acquire(ctx, 1); err != nil {
		t.Fatalf("TestSemaphoreFIFO: initial Acquire(): %s", err)
	}

	const waiters = 5
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(ctx, 1); err != nil {
				t.Errorf("TestSemaphoreFIFO: Acquire(%d): %s", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			s.Release(1)
		}()
		// Give each goroutine time to park so arrival order is known.
		for s.queued() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	s.Release(1)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("TestSemaphoreFIFO: grant order %v, want strict arrival order", order)
		}
	}
}

func TestSemaphoreRequestTooLarge(t *testing.T) {
	s, err := New("", 2)
	if err != nil {
		t.Fatalf("TestSemaphoreRequestTooLarge: %s", err)
	}

	err = s.Acquire(context.Background(), 3)
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("TestSemaphoreRequestTooLarge: got err %v, want ErrRequestTooLarge", err)
	}
}

func TestSemaphoreTryAcquireNoBarging(t *testing.T) {
	ctx := context.Background()
	s, err := New("", 2)
	if err != nil {
		t.Fatalf("TestSemaphoreTryAcquireNoBarging: %s", err)
	}

	if !s.TryAcquire(2) {
		t.Fatalf("TestSemaphoreTryAcquireNoBarging: TryAcquire(2) on a fresh semaphore failed")
	}

	// Park a waiter for 2 permits.
	acquired := make(chan struct{})
	go func() {
		if err := s.Acquire(ctx, 2); err != nil {
			t.Errorf("TestSemaphoreTryAcquireNoBarging: parked Acquire(): %s", err)
		}
		close(acquired)
	}()
	for s.queued() != 1 {
		time.Sleep(time.Millisecond)
	}

	s.Release(1)

	// One permit is free but the queue head wants two; a TryAcquire(1) must
	// not barge past it.
	if s.TryAcquire(1) {
		t.Fatalf("TestSemaphoreTryAcquireNoBarging: TryAcquire(1) barged past a queued request")
	}

	s.Release(1)
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestSemaphoreTryAcquireNoBarging: queued request never granted")
	}
}

func TestSemaphoreAcquireCancellation(t *testing.T) {
	s, err := New("", 1)
	if err != nil {
		t.Fatalf("TestSemaphoreAcquireCancellation: %s", err)
	}

	if err := s.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("TestSemaphoreAcquireCancellation: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Acquire(ctx, 1)
	}()
	for s.queued() != 1 {
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("TestSemaphoreAcquireCancellation: got err %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("TestSemaphoreAcquireCancellation: canceled Acquire() did not return")
	}

	// No phantom permit consumption: the one held permit comes back and is
	// fully available.
	s.Release(1)
	if got := s.Available(); got != 1 {
		t.Fatalf("TestSemaphoreAcquireCancellation: %d permits available, want 1", got)
	}
}

func TestSemaphoreReleaseTooMany(t *testing.T) {
	s, err := New("", 1)
	if err != nil {
		t.Fatalf("TestSemaphoreReleaseTooMany: %s", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("TestSemaphoreReleaseTooMany: Release() of unheld permits did not panic")
		}
	}()
	s.Release(1)
}

func TestSemaphoreWithPermitsReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	s, err := New("", 1)
	if err != nil {
		t.Fatalf("TestSemaphoreWithPermitsReleasesOnPanic: %s", err)
	}

	func() {
		defer func() { recover() }()
		s.WithPermits(ctx, 1, func(ctx context.Context) error {
			panic("task blew up")
		})
	}()

	if got := s.Available(); got != 1 {
		t.Fatalf("TestSemaphoreWithPermitsReleasesOnPanic: %d permits available, want 1", got)
	}
}

// queued returns the number of parked acquirers. Test helper.
func (s *Semaphore) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
