// Package register has a registration method that the named primitives
// (semaphore.Semaphore, queue.Queue, hub.Hub) use to register themselves.
// This is useful to allow gathering of metrics data for OTEL enabled
// applications.
package register

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Named is any primitive that carries a registerable name.
type Named interface {
	// GetName returns the name the primitive was registered under.
	GetName() string
}

var registry = map[string]Named{}
var mu = sync.RWMutex{}

// Register registers a name for a primitive in the registry. Primitives with
// an empty name are not registered.
func Register(p Named) error {
	mu.Lock()
	defer mu.Unlock()

	name := p.GetName()
	if name == "" {
		return nil
	}

	if _, ok := registry[name]; ok {
		return fmt.Errorf("name already taken")
	}

	registry[name] = p
	return nil
}

// Unregister unregisters the primitive from the registry.
func Unregister(p Named) {
	mu.Lock()
	delete(registry, p.GetName())
	mu.Unlock()
}

var numOrHyphen = regexp.MustCompile(`[0-9-\s]`)

// ValidateBaseName returns an error if the name contains numbers, hyphens or
// spaces. Those characters are reserved for the unique suffixes that NewName
// generates.
func ValidateBaseName(name string) error {
	if numOrHyphen.MatchString(name) {
		return fmt.Errorf("name cannot contain numbers or hyphens")
	}
	return nil
}

// NewName takes the base name of a primitive and returns a unique name by
// trying the next number until it finds a unique one.
func NewName(name string) string {
	if !numOrHyphen.MatchString(name) {
		return name + "-1"
	}

	sp := strings.SplitAfter(name, "-")
	n, err := strconv.Atoi(sp[1])
	if err != nil {
		panic(fmt.Sprintf("register is broken, name %s is invalid", name))
	}

	n++
	// sp[0] keeps its trailing hyphen from SplitAfter.
	return fmt.Sprintf("%s%d", sp[0], n)
}

// All returns all primitives registered by this package. Order is
// non-deterministic.
func All() chan Named {
	ch := make(chan Named, 1)
	go func() {
		mu.RLock()
		defer mu.RUnlock()
		for _, p := range registry {
			ch <- p
		}
		close(ch)
	}()
	return ch
}
