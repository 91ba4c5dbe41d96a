// File: internal/arena/arena.go
// Package arena provides generation-checked handles.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Handle names a slot plus the generation the slot had when the value was
// inserted. Removing a value bumps the generation, so handles to removed
// values are detected instead of aliasing whatever reuses the slot.

package arena

import (
	"fmt"
	"sync"
)

// Kind tags what a handle refers to, so a handle of one kind cannot be
// used where another is expected.
type Kind uint8

// Handle is an opaque reference into an Arena. The zero Handle is never
// valid.
type Handle struct {
	Index      uint32
	Generation uint32
	Kind       Kind
}

// Valid reports whether h is non-zero.
func (h Handle) Valid() bool { return h.Generation != 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d/%d", h.Kind, h.Index, h.Generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	used       bool
}

// Arena stores values of type T behind handles. It is safe for concurrent
// use.
type Arena[T any] struct {
	mu    sync.RWMutex
	kind  Kind
	slots []slot[T]
	free  []uint32
	n     int
}

// New creates an arena whose handles carry kind.
func New[T any](kind Kind) *Arena[T] {
	return &Arena[T]{kind: kind}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	s.value = v
	s.used = true
	a.n++
	return Handle{Index: idx, Generation: s.generation, Kind: a.kind}
}

// Get returns the value behind h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.lookup(h)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Remove deletes the value behind h and invalidates every copy of h.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	s := a.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.used = false
	s.generation++
	a.free = append(a.free, h.Index)
	a.n--
	return v, true
}

// Clear removes every value and invalidates all handles.
func (a *Arena[T]) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		s.value = zero
		s.used = false
		s.generation++
		a.free = append(a.free, uint32(i))
	}
	a.n = 0
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.n
}

// Range calls fn for every live value until fn returns false.
func (a *Arena[T]) Range(fn func(Handle, T) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: s.generation, Kind: a.kind}, s.value) {
			return
		}
	}
}

func (a *Arena[T]) lookup(h Handle) *slot[T] {
	if h.Kind != a.kind || int(h.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.Index]
	if !s.used || s.generation != h.Generation {
		return nil
	}
	return s
}
