// Package guard provides a mutex-protected value that is reset to a fresh
// default when a previous holder panicked while holding it.
//
// Go mutexes are released by deferred unlocks during a panic, so the usual
// symptom of a crash inside a critical section is not a stuck lock but a value
// left half-updated. Mutex tracks whether the last critical section completed
// and, if it did not, replaces the value before handing it to the next caller.
package guard

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Mutex guards a value of type T.
type Mutex[T any] struct {
	name string

	mu       sync.Mutex
	value    T
	poisoned bool
	resets   uint64
}

// New creates a guarded value. The name identifies the value in logs.
func New[T any](value T, name string) *Mutex[T] {
	return &Mutex[T]{name: name, value: value}
}

// LockOrReset runs fn with exclusive access to the guarded value. If a
// previous call panicked inside fn, reset is called first and its result
// replaces the value.
func (m *Mutex[T]) LockOrReset(reset func(old T) T, fn func(value *T)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		logrus.WithFields(logrus.Fields{
			"function": "LockOrReset",
			"guard":    m.name,
		}).Error("Resetting guarded value after panic while held")
		m.value = reset(m.value)
		m.poisoned = false
		m.resets++
	}

	// Cleared only if fn returns normally.
	m.poisoned = true
	fn(&m.value)
	m.poisoned = false
}

// Resets reports how many times the value has been reset after a panic.
func (m *Mutex[T]) Resets() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}
