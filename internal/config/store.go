package config

import (
	"sync/atomic"
)

// Store holds the current configuration snapshot with copy-on-write
// semantics. Concurrent readers always see a consistent snapshot; runtime
// edits (the concurrency caps and feature flags are settable through the
// API) replace the whole snapshot atomically.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with the given config.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Get returns the current snapshot. Callers must not mutate it.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Update applies fn to a copy of the current snapshot and publishes the
// result. The next pipeline scheduling decision observes the new values.
func (s *Store) Update(fn func(*Config)) *Config {
	for {
		old := s.current.Load()
		next := *old
		fn(&next)
		if s.current.CompareAndSwap(old, &next) {
			return &next
		}
	}
}
