package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gostdlib/coordination/semaphore"
)

func TestGroupBasic(t *testing.T) {
	sem, err := semaphore.New("", 5)
	if err != nil {
		t.Fatalf("TestGroupBasic: %s", err)
	}

	tests := []struct {
		desc string
		sem  *semaphore.Semaphore
	}{
		{desc: "No semaphore", sem: nil},
		{desc: "With semaphore", sem: sem},
	}

	for _, test := range tests {
		// setup
		var g = Group{Sem: test.sem}
		var count atomic.Int32
		var exit = make(chan struct{})

		// test go routine
		f := func(ctx context.Context) error {
			count.Add(1)
			defer count.Add(-1)
			<-exit
			return nil
		}

		// spin off 5 go routines
		for i := 0; i < 5; i++ {
			g.Go(context.Background(), f)
		}

		for count.Load() != 5 {
			time.Sleep(10 * time.Millisecond)
		}

		// check that running count is correct
		if g.Running() != 5 {
			t.Errorf("TestGroupBasic(%s): Expected Running() to return 5, got %d", test.desc, g.Running())
		}
		close(exit)

		// wait for all go routines to finish
		g.Wait(context.Background())

		// check that running count is 0 after wait
		if g.Running() != 0 {
			t.Errorf("TestGroupBasic(%s): Expected Running() to return 0, got %d", test.desc, g.Running())
		}
	}
}

func TestGroupSemaphoreBoundsConcurrency(t *testing.T) {
	sem, err := semaphore.New("", 2)
	if err != nil {
		t.Fatalf("TestGroupSemaphoreBoundsConcurrency: %s", err)
	}

	g := Group{Sem: sem}
	var inFlight, peak atomic.Int32

	for i := 0; i < 20; i++ {
		g.Go(context.Background(), func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("TestGroupSemaphoreBoundsConcurrency: Wait(): %s", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("TestGroupSemaphoreBoundsConcurrency: peak concurrency %d, want <= 2", p)
	}
}

func TestGroupCancelOnErr(t *testing.T) {
	// setup
	ctx, cancel := context.WithCancel(context.Background())
	g := Group{CancelOnErr: cancel}

	// spin off 5 go routines
	for i := 0; i < 5; i++ {
		i := i
		g.Go(
			ctx,
			func(ctx context.Context) error {
				if i == 3 {
					return errors.New("error")
				}
				<-ctx.Done()

				return nil
			},
		)
	}
	if err := g.Wait(ctx); err == nil {
		t.Errorf("TestGroupCancelOnErr: want error != nil, got nil")
	}
}
