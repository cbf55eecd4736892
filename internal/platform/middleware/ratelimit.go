package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration. Batch ingest is limited
// on a separate, usually much smaller, budget than reads because one batch can
// touch thousands of claims.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	IngestPerSecond   float64
	IngestBurst       int
	// IdleTTL drops buckets that have not been touched for this long.
	IdleTTL time.Duration
	Skipper func(c echo.Context) bool
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IngestPerSecond:   2,
		IngestBurst:       5,
		IdleTTL:           10 * time.Minute,
	}
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	burst    float64
	rate     float64
	lastSeen time.Time
}

// take refills by elapsed time and consumes one token. When empty it returns
// the whole seconds until a token is available.
func (b *bucket) take(now time.Time) (ok bool, wait int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastSeen).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.rate) + 1
}

func (b *bucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastSeen)
}

type limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(idleTTL time.Duration) *limiter {
	return &limiter{
		buckets:   make(map[string]*bucket),
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *limiter) bucketFor(key string, rate float64, burst int) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.idleTTL > 0 && now.Sub(l.lastSweep) >= l.idleTTL {
		for k, b := range l.buckets {
			if b.idleSince(now) >= l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(burst), burst: float64(burst), rate: rate, lastSeen: now}
		l.buckets[key] = b
	}
	return b
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func isIngest(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.TrimRight(r.URL.Path, "/") == IngestPath
}

// RateLimit returns a token-bucket rate limiting middleware. Read traffic is
// bucketed per client IP within a tenant; batch ingest is bucketed per tenant
// so parallel loaders for one payer feed share a budget.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.IngestPerSecond <= 0 {
		cfg.IngestPerSecond = cfg.RequestsPerSecond
		cfg.IngestBurst = cfg.BurstSize
	}
	l := newLimiter(cfg.IdleTTL)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tenantID, _ := c.Get("jwt_tenant_id").(string)
			rate, burst := cfg.RequestsPerSecond, cfg.BurstSize
			key := "read:" + tenantID + ":" + c.RealIP()
			if isIngest(c.Request()) {
				rate, burst = cfg.IngestPerSecond, cfg.IngestBurst
				key = "ingest:" + tenantID
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatFloat(rate, 'f', -1, 64))

			ok, wait := l.bucketFor(key, rate, burst).take(l.now())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(wait))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
