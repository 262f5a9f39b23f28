package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"evv/internal/ratelimit/models"
)

const keyPrefix = "evv:ratelimit:"

// RedisBucketStore keeps one sorted set per key, scored by request time in
// microseconds, so every replica shares the same window.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// allowScript trims the window, then admits the request only if there is
// room. Running it server-side keeps check and insert atomic.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[5])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = ARGV[2]
if oldest[2] then first = oldest[2] end
return {allowed, count, first}
`)

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := s.now()
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-limit.Window).UnixMicro()

	raw, err := allowScript.Run(ctx, s.client, []string{keyPrefix + key},
		cutoff,
		nowMicros,
		limit.Requests,
		strconv.FormatInt(nowMicros, 10)+"-"+uuid.NewString(),
		limit.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(raw))
	}
	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	// Scores come back as strings and may be float formatted.
	first, err := strconv.ParseFloat(fmt.Sprint(raw[2]), 64)
	if err != nil {
		return nil, fmt.Errorf("rate limit oldest score: %w", err)
	}

	res := &models.Result{
		Allowed:   allowed == 1,
		Limit:     limit.Requests,
		Remaining: max(limit.Requests-int(count), 0),
		ResetAt:   time.UnixMicro(int64(first)).Add(limit.Window).UTC(),
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter(res.ResetAt, now)
	}
	return res, nil
}
