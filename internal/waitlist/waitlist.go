// Package waitlist provides the FIFO wait structure that the blocking
// primitives (semaphore, queue, hub) park callers on. A List is not safe for
// concurrent use on its own; it must only be manipulated while holding the
// owning primitive's lock. The channel returned by Waiter.Ready() is what a
// caller parks on, in a select against its Context, after releasing that
// lock.
package waitlist

import "slices"

// A Waiter is one parked caller. It is created by List.Add and woken at most
// once, by List.Wake or List.WakeAll, which closes the ready channel.
type Waiter struct {
	ready chan struct{}
	n     int64
	woken bool
}

// Ready returns the channel that is closed when the waiter is woken.
func (w *Waiter) Ready() <-chan struct{} { return w.ready }

// N returns the amount the waiter asked for (permits, elements). It is 1 for
// waiters that park on a simple condition.
func (w *Waiter) N() int64 { return w.n }

// Woken reports whether the waiter has already been woken. A canceled caller
// uses this to decide between removing itself and refunding what it was
// granted.
func (w *Waiter) Woken() bool { return w.woken }

// List is a FIFO list of waiters.
//
// The zero List is ready to use.
type List struct {
	ws []*Waiter
}

// Add appends a new waiter requesting amount n and returns it.
func (l *List) Add(n int64) *Waiter {
	w := &Waiter{ready: make(chan struct{}), n: n}
	l.ws = append(l.ws, w)
	return w
}

// AddFront prepends a new waiter requesting amount n and returns it. A woken
// waiter that lost the recheck race to a direct caller re-parks with this so
// it keeps its head-of-line position instead of going to the back.
func (l *List) AddFront(n int64) *Waiter {
	w := &Waiter{ready: make(chan struct{}), n: n}
	l.ws = slices.Insert(l.ws, 0, w)
	return w
}

// Len returns the number of parked waiters.
func (l *List) Len() int { return len(l.ws) }

// Peek returns the head waiter without waking it, or nil if the list is
// empty. Grant decisions (head-of-line fairness) are made against this
// waiter only.
func (l *List) Peek() *Waiter {
	if len(l.ws) == 0 {
		return nil
	}
	return l.ws[0]
}

// Wake pops the head waiter and wakes it. It reports whether a waiter was
// woken.
func (l *List) Wake() bool {
	if len(l.ws) == 0 {
		return false
	}
	w := l.ws[0]
	l.ws = slices.Delete(l.ws, 0, 1)
	w.woken = true
	close(w.ready)
	return true
}

// WakeAll wakes every parked waiter, in FIFO order, and empties the list.
// Used on shutdown so that nothing stays parked forever.
func (l *List) WakeAll() {
	ws := l.ws
	l.ws = nil
	for _, w := range ws {
		w.woken = true
		close(w.ready)
	}
}

// Remove unparks w without waking it. It reports whether w was still in the
// list. A false return means w was already woken; the caller must either
// consume the wake or pass it on (by calling Wake again) so that no wakeup
// is lost.
func (l *List) Remove(w *Waiter) bool {
	if i := slices.Index(l.ws, w); i != -1 {
		l.ws = slices.Delete(l.ws, i, i+1)
		return true
	}
	return false
}
