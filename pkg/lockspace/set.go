package lockspace

import (
	"slices"
	"sync"
)

// Set is an in-memory list of active lock spaces, kept in insertion order.
type Set struct {
	mu    sync.RWMutex
	names []string
}

// NewSet creates a set holding the given names
func NewSet(names ...string) *Set {
	s := &Set{}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add registers a lock space, adding a known name is a no-op
func (s *Set) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.names, name) {
		return
	}
	s.names = append(s.names, name)
}

// Remove forgets a lock space
func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.Index(s.names, name); i >= 0 {
		s.names = slices.Delete(s.names, i, i+1)
	}
}

// Len returns the number of lock spaces
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Range calls fn for each lock space until fn returns false.
func (s *Set) Range(fn func(name string) bool) error {
	s.mu.RLock()
	names := slices.Clone(s.names)
	s.mu.RUnlock()

	for _, n := range names {
		if !fn(n) {
			break
		}
	}
	return nil
}
