package ref

import (
	"sync"
	"testing"
)

func TestRefGetSet(t *testing.T) {
	r := New("before")

	if got := r.Get(); got != "before" {
		t.Fatalf("TestRefGetSet: Get(): got %q, want %q", got, "before")
	}

	r.Set("after")
	if got := r.Get(); got != "after" {
		t.Errorf("TestRefGetSet: Get() after Set(): got %q, want %q", got, "after")
	}

	if got := r.GetAndSet("final"); got != "after" {
		t.Errorf("TestRefGetSet: GetAndSet(): got %q, want %q", got, "after")
	}
	if got := r.Get(); got != "final" {
		t.Errorf("TestRefGetSet: Get() after GetAndSet(): got %q, want %q", got, "final")
	}
}

func TestRefNoLostUpdates(t *testing.T) {
	const updates = 100

	r := New(0)
	var wg sync.WaitGroup

	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()

	if got := r.Get(); got != updates {
		t.Fatalf("TestRefNoLostUpdates: got %d, want %d", got, updates)
	}
}

func TestRefUpdateVariants(t *testing.T) {
	r := New(10)

	if got := r.GetAndUpdate(func(v int) int { return v * 2 }); got != 10 {
		t.Errorf("TestRefUpdateVariants: GetAndUpdate(): got %d, want 10", got)
	}
	if got := r.Get(); got != 20 {
		t.Errorf("TestRefUpdateVariants: value after GetAndUpdate(): got %d, want 20", got)
	}

	if got := r.UpdateAndGet(func(v int) int { return v + 5 }); got != 25 {
		t.Errorf("TestRefUpdateVariants: UpdateAndGet(): got %d, want 25", got)
	}
}

func TestRefModify(t *testing.T) {
	r := New(3)

	// Modify returns the first component and stores the second.
	old := Modify(r, func(v int) (int, int) { return v, v * v })
	if old != 3 {
		t.Errorf("TestRefModify: returned %d, want 3", old)
	}
	if got := r.Get(); got != 9 {
		t.Errorf("TestRefModify: stored %d, want 9", got)
	}
}

func TestRefModifyConcurrent(t *testing.T) {
	const updates = 100

	r := New(0)
	var wg sync.WaitGroup
	seen := make([]int, updates)

	for i := 0; i < updates; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen[i] = Modify(r, func(v int) (int, int) { return v, v + 1 })
		}()
	}
	wg.Wait()

	if got := r.Get(); got != updates {
		t.Fatalf("TestRefModifyConcurrent: final value %d, want %d", got, updates)
	}

	// Linearizable updates hand out each intermediate value exactly once.
	counts := make(map[int]int, updates)
	for _, v := range seen {
		counts[v]++
	}
	for v := 0; v < updates; v++ {
		if counts[v] != 1 {
			t.Fatalf("TestRefModifyConcurrent: intermediate value %d observed %d times, want 1", v, counts[v])
		}
	}
}
