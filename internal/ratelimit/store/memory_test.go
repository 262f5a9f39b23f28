package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evv/internal/ratelimit/models"
)

func TestInMemoryBucketStore_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	s := NewInMemoryBucketStore()
	s.now = func() time.Time { return now }
	limit := models.Limit{Requests: 2, Window: time.Minute}

	res, err := s.Allow(ctx, "device:a", limit)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	now = now.Add(10 * time.Second)
	res, err = s.Allow(ctx, "device:a", limit)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	t.Run("denied until the oldest request leaves the window", func(t *testing.T) {
		now = now.Add(10 * time.Second)
		res, err := s.Allow(ctx, "device:a", limit)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 40, res.RetryAfter)
		assert.True(t, res.ResetAt.Equal(time.Date(2026, 3, 2, 14, 1, 0, 0, time.UTC)))
	})

	t.Run("other keys have their own budget", func(t *testing.T) {
		res, err := s.Allow(ctx, "device:b", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		now = time.Date(2026, 3, 2, 14, 1, 0, 0, time.UTC)
		res, err := s.Allow(ctx, "device:a", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	})
}

func TestRetryAfterIsAtLeastOneSecond(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1, retryAfter(now, now))
	assert.Equal(t, 2, retryAfter(now.Add(1500*time.Millisecond), now))
}
