// Package store holds sliding-window counters keyed by caller.
package store

import (
	"context"
	"math"
	"time"

	"evv/internal/ratelimit/models"
)

type BucketStore interface {
	// Allow records one request for key when the window has room.
	Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error)
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
