// Package middleware throttles devices per endpoint class.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"evv/internal/ratelimit/models"
	"evv/pkg/platform/httputil"
	"evv/pkg/platform/middleware/metadata"
	"evv/pkg/requestcontext"
)

type BucketStore interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error)
}

type Middleware struct {
	store    BucketStore
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.Requests > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func New(store BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		store:  store,
		logger: logger,
		limits: map[models.EndpointClass]models.Limit{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit applies the budget for class. Classes without a configured
// limit pass through. Store errors fail open.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.check(w, r, class) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// ByMethod limits reads with the read class and everything else with write.
func (m *Middleware) ByMethod(write models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := write
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				class = models.ClassRead
			}
			if m.check(w, r, class) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (m *Middleware) check(w http.ResponseWriter, r *http.Request, class models.EndpointClass) bool {
	limit, ok := m.limits[class]
	if m.disabled || !ok {
		return true
	}
	ctx := r.Context()
	key := string(class) + ":" + callerKey(r)

	result, err := m.store.Allow(ctx, key, limit)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to check rate limit",
			"error", err,
			"class", class,
			"request_id", requestcontext.RequestID(ctx),
		)
		return true
	}

	addRateLimitHeaders(w, result)
	if !result.Allowed {
		m.logger.WarnContext(ctx, "rate limit exceeded",
			"class", class,
			"key", key,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeRateLimitExceeded(w, result)
		return false
	}
	return true
}

// callerKey prefers the device, then the authenticated user, then the
// client address.
func callerKey(r *http.Request) string {
	ctx := r.Context()
	if d := requestcontext.DeviceInfo(ctx); d.ID != "" {
		return "device:" + d.ID
	}
	if u := requestcontext.UserID(ctx); !u.IsNil() {
		return "user:" + u.String()
	}
	return "ip:" + metadata.ClientIPFromRequest(r)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this device. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
