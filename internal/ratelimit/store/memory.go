package store

import (
	"context"
	"sync"
	"time"

	"evv/internal/ratelimit/models"
)

// InMemoryBucketStore is a per-process sliding window. Use RedisBucketStore
// when more than one replica serves devices.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

func NewInMemoryBucketStore() *InMemoryBucketStore {
	return &InMemoryBucketStore{buckets: make(map[string][]time.Time), now: time.Now}
}

func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit models.Limit) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.buckets[key], now.Add(-limit.Window))

	res := &models.Result{Limit: limit.Requests}
	if len(stamps) < limit.Requests {
		stamps = append(stamps, now)
		res.Allowed = true
	}
	s.buckets[key] = stamps
	res.Remaining = max(limit.Requests-len(stamps), 0)
	if len(stamps) > 0 {
		res.ResetAt = stamps[0].Add(limit.Window)
	} else {
		res.ResetAt = now.Add(limit.Window)
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter(res.ResetAt, now)
	}
	return res, nil
}

// prune drops timestamps at or before cutoff.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
