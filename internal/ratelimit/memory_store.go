package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory behind one mutex.
type MemoryStore struct {
	mu            sync.Mutex
	entries       map[string]*entry
	sweepInterval time.Duration
	lastSweep     time.Time
}

func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &MemoryStore{
		entries:       make(map[string]*entry),
		sweepInterval: sweepInterval,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, maxRequests int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.sweepInterval {
		s.cleanupExpiredLocked(now)
	}

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
		return Result{Allowed: true, Remaining: maxRequests - 1, ResetAt: e.resetAt}, nil
	}
	if e.count >= maxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: e.resetAt}, nil
	}
	e.count++
	return Result{Allowed: true, Remaining: maxRequests - e.count, ResetAt: e.resetAt}, nil
}

// Cleanup drops windows that have ended. It only bounds memory; an
// expired entry that survives is replaced on its next hit anyway.
func (s *MemoryStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupExpiredLocked(now)
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) cleanupExpiredLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.lastSweep = now
	return removed
}
