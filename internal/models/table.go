package models

import (
	"sync"
)

/* THREAD SAFE TABLE */

// Table used for storing thread safe maps,
// such as live connections or batch results.
type Table[I comparable, T any] struct {
	mut  sync.RWMutex
	data map[I]T
}

/* FUNCTIONS */

// Allocates the data table
func NewTable[I comparable, T any](size int) *Table[I, T] {
	return &Table[I, T]{
		data: make(map[I]T, size),
	}
}

// Thread safe write
func (t *Table[I, T]) Add(i I, v T) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.data[i] = v
}

// Thread safe write
func (t *Table[I, T]) Remove(i I) {
	t.mut.Lock()
	defer t.mut.Unlock()
	delete(t.data, i)
}

// Thread safe read
func (t *Table[I, T]) Get(i I) (T, bool) {
	t.mut.RLock()
	defer t.mut.RUnlock()
	v, ok := t.data[i]
	return v, ok
}

// Thread safe read
func (t *Table[I, T]) Len() int {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return len(t.data)
}

// Returns a copy of the table contents
func (t *Table[I, T]) Snapshot() map[I]T {
	t.mut.RLock()
	defer t.mut.RUnlock()

	copied := make(map[I]T, len(t.data))
	for k, v := range t.data {
		copied[k] = v
	}

	return copied
}
