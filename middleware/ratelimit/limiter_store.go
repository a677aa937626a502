package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore keeps one limiter per client, evicting the least recently
// seen client when full.
type LimiterStore struct {
	mu       sync.Mutex
	limiters map[uint64]*timestampedLimiter
	maxSize  int
	rate     int

	now func() time.Time
}

type timestampedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new limiter store
func NewLimiterStore(maxSize, rateLimit int) *LimiterStore {
	return &LimiterStore{
		limiters: make(map[uint64]*timestampedLimiter),
		maxSize:  maxSize,
		rate:     rateLimit,
		now:      time.Now,
	}
}

// Get retrieves or creates a limiter for the given key
func (s *LimiterStore) Get(key uint64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if tl, ok := s.limiters[key]; ok {
		tl.lastSeen = now
		return tl.limiter
	}

	if len(s.limiters) >= s.maxSize {
		s.evictOne()
	}

	// rate queries per minute with a burst of the same size
	rl := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.rate)), s.rate)

	s.limiters[key] = &timestampedLimiter{
		limiter:  rl,
		lastSeen: now,
	}

	return rl
}

// evictOne removes the oldest entry
func (s *LimiterStore) evictOne() {
	var (
		oldestKey  uint64
		oldestTime time.Time
		first      = true
	)

	for k, v := range s.limiters {
		if first || v.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastSeen
			first = false
		}
	}

	delete(s.limiters, oldestKey)
}

// Len returns the number of tracked clients.
func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.limiters)
}
