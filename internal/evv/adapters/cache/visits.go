// Package cache fronts the visit collaborator with a Redis read-through cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"evv/internal/evv/ports"
	id "evv/pkg/domain"
	"evv/pkg/platform/circuit"
)

var (
	visitCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evv_visit_cache_lookups_total",
		Help: "Visit cache lookups by outcome (hit, miss, error, bypass)",
	}, []string{"outcome"})
	visitCacheBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evv_visit_cache_breaker_state",
		Help: "Visit cache circuit breaker state (0=closed, 1=open)",
	})
)

const (
	visitKeyPrefix  = "evv:visit:"
	DefaultVisitTTL = 5 * time.Minute
)

// VisitCache implements ports.VisitPort. Redis failures never fail a lookup;
// after repeated failures the breaker opens and writes back are skipped until
// Redis answers again.
type VisitCache struct {
	client  *redis.Client
	next    ports.VisitPort
	ttl     time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*VisitCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *VisitCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *VisitCache) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *VisitCache) {
		c.logger = logger
	}
}

func NewVisitCache(client *redis.Client, next ports.VisitPort, opts ...Option) *VisitCache {
	c := &VisitCache{
		client:  client,
		next:    next,
		ttl:     DefaultVisitTTL,
		breaker: circuit.New("visit-cache", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *VisitCache) GetVisit(ctx context.Context, visitID id.VisitID) (*ports.Visit, error) {
	key := visitKeyPrefix + visitID.String()

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		c.recordSuccess(ctx)
		var v ports.Visit
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			visitCacheLookups.WithLabelValues("hit").Inc()
			return &v, nil
		}
		// Unreadable entry; refetch and overwrite.
		visitCacheLookups.WithLabelValues("miss").Inc()
	case errors.Is(err, redis.Nil):
		c.recordSuccess(ctx)
		visitCacheLookups.WithLabelValues("miss").Inc()
	default:
		c.recordFailure(ctx, err)
		visitCacheLookups.WithLabelValues("error").Inc()
	}

	v, err := c.next.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if c.breaker.IsOpen() {
		visitCacheLookups.WithLabelValues("bypass").Inc()
		return v, nil
	}
	if payload, err := json.Marshal(v); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.recordFailure(ctx, err)
		}
	}
	return v, nil
}

// Invalidate drops a cached visit, e.g. after a schedule change.
func (c *VisitCache) Invalidate(ctx context.Context, visitID id.VisitID) error {
	return c.client.Del(ctx, visitKeyPrefix+visitID.String()).Err()
}

func (c *VisitCache) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		visitCacheBreakerState.Set(0)
		c.logger.InfoContext(ctx, "visit cache recovered", "breaker", c.breaker.Name())
	}
}

func (c *VisitCache) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		visitCacheBreakerState.Set(1)
		c.logger.WarnContext(ctx, "visit cache degraded, serving from collaborator",
			"breaker", c.breaker.Name(),
			"error", err,
		)
	}
}
