// Package sensors adapts device readings into the non-blocking sources the
// capture coordinator samples from.
package sensors

import (
	"sync"
	"sync/atomic"
)

// Latest holds the most recent value published by a sensor. A new value
// always replaces the previous one; readers never block and never consume
// the value, so every capture sees the newest reading available.
type Latest[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
	read  bool

	updates     atomic.Uint64
	overwritten atomic.Uint64
}

// Set publishes v. If the previous value was never read it is counted as
// overwritten.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	if l.set && !l.read {
		l.overwritten.Add(1)
	}
	l.value = v
	l.set = true
	l.read = false
	l.mu.Unlock()
	l.updates.Add(1)
}

// Get returns the current value. ok is false until the first Set and after
// Clear.
func (l *Latest[T]) Get() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.set {
		return v, false
	}
	l.read = true
	return l.value, true
}

// Clear withdraws the current value, e.g. when a GPS fix is lost.
func (l *Latest[T]) Clear() {
	l.mu.Lock()
	var zero T
	l.value = zero
	l.set = false
	l.read = false
	l.mu.Unlock()
}

// Updates returns the number of values published.
func (l *Latest[T]) Updates() uint64 { return l.updates.Load() }

// Overwritten returns the number of values replaced before anyone read them.
func (l *Latest[T]) Overwritten() uint64 { return l.overwritten.Load() }
