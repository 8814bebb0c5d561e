package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig tunes the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig is sized for a ward of concurrent trainees plus a
// label-printing burst, which fetches every session's data back to back.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	refilled time.Time
}

// take refills by elapsed time and consumes one token if available.
func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.refilled).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// retryAfter estimates whole seconds until one token is available.
func (b *bucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate <= 0 {
		return 1
	}
	return int((1-b.tokens)/b.rate) + 1
}

// maxTrackedClients bounds the bucket map; beyond it the map resets rather
// than growing without limit under an address-rotating client.
const maxTrackedClients = 10000

type bucketStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     RateLimitConfig
}

func (s *bucketStore) get(key string) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[key]; ok {
		return b
	}
	if len(s.buckets) >= maxTrackedClients {
		s.buckets = make(map[string]*bucket)
	}
	b := &bucket{
		tokens:   float64(s.cfg.BurstSize),
		capacity: float64(s.cfg.BurstSize),
		rate:     s.cfg.RequestsPerSecond,
		refilled: time.Now(),
	}
	s.buckets[key] = b
	return b
}

// RateLimit throttles per client. The key is the tenant id plus the remote
// address when a token is present, so one tenant's load test cannot starve
// another tenant's running simulation.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := &bucketStore{buckets: make(map[string]*bucket), cfg: cfg}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			b := store.get(key)
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !b.take() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(b.retryAfter()))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
