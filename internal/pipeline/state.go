package pipeline

import "sync/atomic"

// StateStore holds the latest Snapshot behind an atomic pointer swap.
// Readers get a consistent copy without taking a lock; writers replace the
// snapshot wholesale so a partial update is never observable.
type StateStore struct {
	cur atomic.Pointer[Snapshot]
}

// NewStateStore returns a store initialized to the zero snapshot
// (not ready, not busy, no result).
func NewStateStore() *StateStore {
	s := &StateStore{}
	s.cur.Store(&Snapshot{})
	return s
}

// Load returns a copy of the current snapshot.
func (s *StateStore) Load() Snapshot {
	return *s.cur.Load()
}

// Update applies mutate to the current snapshot and publishes the result
// atomically, returning the published value. mutate receives a copy and
// must return the complete next snapshot; it may be retried if the store
// changed concurrently, so it must be pure.
func (s *StateStore) Update(mutate func(Snapshot) Snapshot) Snapshot {
	for {
		old := s.cur.Load()
		next := mutate(*old)
		if s.cur.CompareAndSwap(old, &next) {
			return next
		}
	}
}
