// Package syncx provides small synchronization helpers shared by the capture
// scheduler, settings and server.
package syncx

import "sync"

// RWGuard holds a value behind an RWMutex. Readers get copies; writers get a
// pointer for the duration of the callback.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns a copy of the value.
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap replaces the value and returns the previous one.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Write mutates the value under the write lock.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Transition runs fn under the write lock. If fn returns an error the value is
// left untouched; otherwise the mutated copy is stored.
func (g *RWGuard[T]) Transition(fn func(*T) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.value
	if err := fn(&next); err != nil {
		return err
	}
	g.value = next
	return nil
}
