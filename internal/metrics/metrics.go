// Per-component counter sets. Every input instance owns one Set with its
// records/bytes counters; other components may register additional ones.
package metrics

import "sync"

const (
	CounterRecords = "records"
	CounterBytes   = "bytes"
)

// Set is a named group of monotonically increasing counters.
type Set struct {
	title string

	mu       sync.Mutex
	counters map[string]uint64
}

func NewSet(title string) *Set {
	return &Set{
		title:    title,
		counters: make(map[string]uint64),
	}
}

func (s *Set) Title() string {
	return s.title
}

// Register makes a counter visible in snapshots before its first Add.
func (s *Set) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[name]; !ok {
		s.counters[name] = 0
	}
}

// Add increments a counter, registering it on first use.
func (s *Set) Add(name string, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += n
}

// Value returns the current counter value (0 for unknown counters).
func (s *Set) Value(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Snapshot copies out all counters.
func (s *Set) Snapshot() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counters))
	for name, v := range s.counters {
		out[name] = v
	}
	return out
}
