package snapshot

// Store holds the two most recent snapshots.
//
// It has a single owner and is not safe for concurrent use.
type Store struct {
	previous Snapshot
	current  Snapshot
}

// Replace moves the current snapshot into previous and installs next as current.
func (s *Store) Replace(next Snapshot) {
	s.previous, s.current = s.current, next
}

// Reset empties both snapshots.
func (s *Store) Reset() {
	s.previous, s.current = Empty, Empty
}

// Previous returns the snapshot of the preceding reconciliation pass
func (s *Store) Previous() Snapshot {
	return s.previous
}

// Current returns the most recent snapshot
func (s *Store) Current() Snapshot {
	return s.current
}
