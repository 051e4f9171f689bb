// Package metrics holds the per-category threat counters. Counters are
// monotonically increasing for the lifetime of a run and reset only on
// process restart.
package metrics

import "sync"

// Counts is a snapshot of the counters. Total always equals the sum of the
// per-category counters.
type Counts struct {
	File    uint64 `json:"file"`
	Process uint64 `json:"process"`
	Network uint64 `json:"network"`
	Memory  uint64 `json:"memory"`
	Total   uint64 `json:"total"`
}

// Store is the single synchronized counter sink shared by all monitors and
// the response engine.
type Store struct {
	mu      sync.Mutex
	file    uint64
	process uint64
	network uint64
	memory  uint64
}

func NewStore() *Store {
	return &Store{}
}

// Inc increments the counter for a category. Unknown categories are ignored
// rather than miscounted.
func (s *Store) Inc(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch category {
	case "file":
		s.file++
	case "process":
		s.process++
	case "network":
		s.network++
	case "memory":
		s.memory++
	}
}

// Snapshot returns a consistent copy of all counters.
func (s *Store) Snapshot() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Counts{
		File:    s.file,
		Process: s.process,
		Network: s.network,
		Memory:  s.memory,
		Total:   s.file + s.process + s.network + s.memory,
	}
}
