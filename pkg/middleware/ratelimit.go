package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/auth"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	def := DefaultRateLimitConfig()
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = def.RequestsPerWindow
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = def.WindowDuration
	}
	return c
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts requests per key in fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisRateLimiter shares fixed-window counters across instances through Redis
type RedisRateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisRateLimiter{
		redis:  client,
		config: config.withDefaults(),
		prefix: prefix,
	}
}

// Allow increments the counter for key. The window starts with the first
// request and is not extended by later ones.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: rl.config.RequestsPerWindow}, fmt.Errorf("redis error: %w", err)
	}

	resetIn := pttl.Val()
	if resetIn < 0 {
		// New key: start the window
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{Allowed: true, Limit: rl.config.RequestsPerWindow}, fmt.Errorf("redis error: %w", err)
		}
		resetIn = rl.config.WindowDuration
	}

	return decide(incr.Val(), rl.config.RequestsPerWindow, resetIn), nil
}

// Reset clears the counter for a key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// MemoryRateLimiter is the single-instance limiter used when Redis is not configured
type MemoryRateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryRateLimiter creates an in-process limiter tracking at most size keys
func NewMemoryRateLimiter(config RateLimitConfig, size int) *MemoryRateLimiter {
	config = config.withDefaults()
	if size <= 0 {
		size = 10000
	}
	return &MemoryRateLimiter{
		config:  config,
		windows: expirable.NewLRU[string, *window](size, nil, config.WindowDuration),
		now:     time.Now,
	}
}

// Allow increments the counter for key
func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.config.WindowDuration)}
		rl.windows.Add(key, w)
	}
	w.count++

	return decide(w.count, rl.config.RequestsPerWindow, w.resetAt.Sub(now)), nil
}

func decide(count int64, limit int, resetIn time.Duration) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// RateLimit limits requests per user, or per client IP before authentication.
// Limiter errors fail open.
func RateLimit(limiter Limiter, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + getClientIP(r)
			if ac := auth.FromContext(r.Context()); ac != nil && ac.UserID != "" {
				key = "user:" + ac.UserID
			}

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("key", key).
					Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, decision)
			if !decision.Allowed {
				metrics.RecordRateLimited()
				retryAfter := int(decision.ResetIn.Round(time.Second) / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteAPIError(w, apierrors.RateLimited().WithDetail("retry_after", retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.ResetIn).Unix(), 10))
}
