package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	apierrors "github.com/hrygo/meetingagent/server/internal/errors"
)

// IdentityHeader carries the calendar owner of an API request.
const IdentityHeader = "X-User-ID"

// RateLimiter keeps one token bucket per identity.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	every  rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter allowing perSecond requests per identity
// with the given burst. Non-positive values fall back to 2/s with a burst of 5.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		every:  rate.Every(time.Duration(float64(time.Second) / perSecond)),
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.every, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// refill is the time one token takes to come back.
func (rl *RateLimiter) refill() time.Duration {
	if rl.every <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(rl.every))
}

// Middleware rejects requests over the per-identity budget with 429.
// Requests without an identity share the bucket of their remote address.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(IdentityHeader)
			if key == "" {
				key = c.RealIP()
			}
			if !rl.Allow(key) {
				apiErr := apierrors.RateLimitExceeded("too many requests", rl.refill()).WithContext("identity", key)
				c.Response().Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfterSeconds()))
				return c.JSON(apiErr.HTTPStatus(), apiErr.Body())
			}
			return next(c)
		}
	}
}
