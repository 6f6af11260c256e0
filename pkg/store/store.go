package store

import (
	"maps"
	"slices"
	"sync"
)

type (
	// Store is the key/value medium shared by every node in a run
	Store interface {
		Get(key string) (any, bool)
		Set(key string, value any)
	}

	// Snapshotter is implemented by stores that can copy out their contents
	Snapshotter interface {
		Snapshot() map[string]any
	}

	// Memory is a concurrent, in-process Store
	Memory struct {
		mu   sync.RWMutex
		data map[string]any
	}

	// UpdateFunc computes a new value from the current one
	UpdateFunc func(current any, ok bool) any
)

var (
	_ Store       = (*Memory)(nil)
	_ Snapshotter = (*Memory)(nil)
)

// New creates an empty Memory store
func New() *Memory {
	return &Memory{
		data: map[string]any{},
	}
}

// NewFrom creates a Memory store seeded with a copy of init
func NewFrom(init map[string]any) *Memory {
	m := New()
	maps.Copy(m.data, init)
	return m
}

// Get returns the value stored under key
func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	return val, ok
}

// Set stores value under key, replacing any previous value
func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Update atomically replaces the value under key with the result of fn.
// fn runs while the store is locked and must not call back into it
func (m *Memory) Update(key string, fn UpdateFunc) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[key]
	res := fn(cur, ok)
	m.data[key] = res
	return res
}

// Delete removes key, reporting whether it was present
func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	delete(m.data, key)
	return ok
}

// Contains reports whether key is present
func (m *Memory) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

// Keys returns the stored keys in sorted order
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data))
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Snapshot returns a shallow copy of the store's contents
func (m *Memory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}

// Value performs a typed lookup, reporting false when the key is missing or
// holds a value of another type
func Value[T any](s Store, key string) (T, bool) {
	var zero T
	raw, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	res, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return res, true
}
