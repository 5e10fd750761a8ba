package auth

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultStateTTL bounds how long a login may take between
	// BeginLogin and the callback.
	DefaultStateTTL = 10 * time.Minute

	// DefaultMaxPendingStates caps the in-memory state table.
	DefaultMaxPendingStates = 10000
)

// StateStore holds pending login states. Consume must report a state as
// valid at most once.
type StateStore interface {
	Add(ctx context.Context, state string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (bool, error)
}

// StateSweeper is implemented by state stores that must purge expired
// entries themselves. Store.Run calls Sweep on every tick.
type StateSweeper interface {
	Sweep(ctx context.Context) int
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu         sync.Mutex
	states     map[string]time.Time
	maxEntries int
	now        func() time.Time
}

// NewMemoryStateStore creates a store holding at most maxEntries states.
// A non-positive maxEntries uses DefaultMaxPendingStates.
func NewMemoryStateStore(maxEntries int) *MemoryStateStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxPendingStates
	}
	return &MemoryStateStore{
		states:     make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Add records state until ttl elapses. When the table is full the entry
// closest to expiry is evicted.
func (s *MemoryStateStore) Add(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	if len(s.states) >= s.maxEntries {
		var (
			oldest    string
			oldestExp time.Time
		)
		for k, exp := range s.states {
			if oldest == "" || exp.Before(oldestExp) {
				oldest, oldestExp = k, exp
			}
		}
		delete(s.states, oldest)
	}

	s.states[state] = now.Add(ttl)
	return nil
}

// Consume removes state and reports whether it was pending and unexpired.
func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	return s.now().Before(exp), nil
}

// Len returns the number of tracked states, expired ones included.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Sweep drops expired states and returns how many were removed.
func (s *MemoryStateStore) Sweep(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *MemoryStateStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, exp := range s.states {
		if !now.Before(exp) {
			delete(s.states, k)
			removed++
		}
	}
	return removed
}
