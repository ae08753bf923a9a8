// Package syncx provides small lock-scoped containers shared by the pipeline.
package syncx

import "sync"

// RWGuard wraps a value with an RWMutex and scoped accessors.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Write runs fn under the write lock.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
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

// Swap replaces the value and returns the old one.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// FlagSet is a keyed set of booleans written by one poller and read by many.
// Each access holds the lock only for the single lookup or store.
type FlagSet[K comparable] struct {
	mu    sync.RWMutex
	flags map[K]bool
}

// NewFlagSet creates an empty flag set.
func NewFlagSet[K comparable]() *FlagSet[K] {
	return &FlagSet[K]{flags: make(map[K]bool)}
}

// Set stores the flag and reports whether it changed.
func (f *FlagSet[K]) Set(key K, v bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.flags[key]
	if v {
		f.flags[key] = true
	} else {
		delete(f.flags, key)
	}
	return old != v
}

// Get returns the flag, false when unset.
func (f *FlagSet[K]) Get(key K) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags[key]
}

// Delete clears the flag.
func (f *FlagSet[K]) Delete(key K) {
	f.mu.Lock()
	delete(f.flags, key)
	f.mu.Unlock()
}
