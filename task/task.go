/*
Package task provides a safer way to spawn and join the goroutines that
drive this module's primitives. It is an alternative to sync.WaitGroup that
handles the .Add() and .Done() calls for you, and an alternative to the
errgroup package that can bound concurrency through a semaphore.Semaphore
instead of a worker pool.

Basic example:

	g := task.Group{Name: "ingest"}

	for _, u := range urls {
		u := u
		g.Go(ctx, func(ctx context.Context) error {
			return fetch(ctx, u)
		})
	}

	if err := g.Wait(ctx); err != nil {
		// Handle error
	}
*/
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gostdlib/coordination/semaphore"
	"github.com/gostdlib/internals/otel/span"
)

// FuncCall is a function call executed by Group.Go.
type FuncCall func(ctx context.Context) error

// Group spawns goroutines and joins them. If Sem is set, each spawned
// goroutine holds one permit for its lifetime, bounding how many run at
// once; acquisition keeps the semaphore's FIFO fairness, so spawn order is
// service order. CancelOnErr allows mimicking of the
// golang.org/x/sync/errgroup package. OTEL span events are recorded on
// Wait() under the optional Name.
type Group struct {
	count  atomic.Int64
	total  atomic.Int64
	errors atomic.Pointer[error]
	wg     sync.WaitGroup

	noCopy noCopy // Flag govet to prevent copying

	// Sem is an optional semaphore bounding concurrency. Each goroutine
	// acquires one permit before running f and releases it after.
	Sem *semaphore.Semaphore
	// CancelOnErr holds a CancelFunc that will be called if any goroutine
	// returns an error. This will automatically be called when Wait() is
	// finished and then reset to nil to allow reuse.
	CancelOnErr context.CancelFunc
	// Name provides an optional name for the Group for the purpose of
	// OTEL logging information.
	Name string
}

// Go spins off a goroutine that executes f(ctx). If Sem is set, the
// goroutine waits its turn for a permit first.
func (g *Group) Go(ctx context.Context, f FuncCall) {
	g.count.Add(1)
	g.total.Add(1)
	g.wg.Add(1)

	go func() {
		defer g.count.Add(-1)
		defer g.wg.Done()

		if ctx.Err() != nil {
			applyErr(&g.errors, ctx.Err())
			return
		}

		run := f
		if g.Sem != nil {
			run = func(ctx context.Context) error {
				return g.Sem.WithPermits(ctx, 1, f)
			}
		}

		if err := run(ctx); err != nil {
			applyErr(&g.errors, err)
			if g.CancelOnErr != nil {
				g.CancelOnErr()
			}
		}
	}()
}

// Running returns the number of goroutines that are currently running.
func (g *Group) Running() int {
	return int(g.count.Load())
}

// Wait blocks until all goroutines are finished. The passed Context cannot
// be cancelled.
func (g *Group) Wait(ctx context.Context) error {
	if g.Name == "" {
		g.Name = "unspecified"
	}

	// OTEL stuff.
	now := time.Now()
	spanner := span.Get(ctx)
	g.waitOTELStart(spanner)
	defer g.waitOTELEnd(spanner, now)

	g.wg.Wait()

	if g.CancelOnErr != nil {
		g.CancelOnErr()
		g.CancelOnErr = nil
	}
	err := g.errors.Load()
	if err != nil {
		spanner.Error(*err)
		return *err
	}
	return nil
}

func (g *Group) waitOTELStart(spanner span.Span) {
	if !spanner.Span.IsRecording() {
		return
	}

	spanner.Event(
		"Group.Wait() called",
		"name", g.Name,
		"total goroutines", g.total.Load(),
		"cancelOnErr", g.CancelOnErr != nil,
		"using semaphore", g.Sem != nil,
	)
}

func (g *Group) waitOTELEnd(spanner span.Span, t time.Time) {
	if spanner.Span.IsRecording() {
		spanner.Event("Group.Wait() done", "name", g.Name, "elapsed_ns", time.Since(t))
	}

	// Reset counters for reuse.
	g.count.Store(0)
	g.total.Store(0)
	g.errors.Store(nil)
}

// applyErr sets the error to be returned. If an error already exists, it wraps this error in that one.
// If the error is some context cancellation, that is only recorded if it is the first error.
// This uses atomic compare and swap operations to avoid mutex.
func applyErr(ptr *atomic.Pointer[error], err error) {
	for {
		existing := ptr.Load()
		if existing == nil {
			if ptr.CompareAndSwap(nil, &err) {
				return
			}
		} else {
			switch err {
			case context.Canceled, context.DeadlineExceeded:
				return
			}
			err = fmt.Errorf("%w", err)
			if ptr.CompareAndSwap(existing, &err) {
				return
			}
		}
	}
}

type noCopy struct{}

func (*noCopy) Lock() {}
