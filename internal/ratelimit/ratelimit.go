// Package ratelimit throttles inference requests per client.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether a client may issue another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory limiter bounds. A bucket left idle for one minute has refilled
// completely, so dropping it does not change any decision.
const (
	maxTrackedClients = 100_000
	bucketIdleTTL     = time.Minute
)

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// live in an expiring LRU so the set of tracked clients stays bounded.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewMemoryLimiter allows perMinute requests per key with a burst of the same size.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	return newMemoryLimiter(perMinute, maxTrackedClients, bucketIdleTTL)
}

func newMemoryLimiter(perMinute, size int, idle time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		buckets: expirable.NewLRU[string, *rate.Limiter](size, nil, idle),
	}
}

// Allow consumes one token from the key's bucket and refreshes its expiry.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
	}
	l.buckets.Add(key, bucket)
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// Tracked reports how many client buckets are held.
func (l *MemoryLimiter) Tracked() int {
	return l.buckets.Len()
}

// Counter is the subset of Redis commands the fixed-window limiter needs.
type Counter interface {
	// IncrWithTTL increments key and sets its TTL in one transaction.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounter adapts a go-redis client to Counter.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// IncrWithTTL runs INCR and EXPIRE inside MULTI/EXEC so a counter never
// exists without a TTL.
func (c *RedisCounter) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// windowTTL outlives the one-minute window it belongs to.
const windowTTL = 2 * time.Minute

// RedisLimiter counts requests per key in one-minute windows shared by all
// replicas.
type RedisLimiter struct {
	counter   Counter
	perMinute int64
	prefix    string
	now       func() time.Time
}

// NewRedisLimiter allows perMinute requests per key per calendar minute.
func NewRedisLimiter(counter Counter, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		counter:   counter,
		perMinute: int64(perMinute),
		prefix:    "ratelimit:infer",
		now:       time.Now,
	}
}

// Allow increments the current window's counter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().UTC().Truncate(time.Minute).Unix()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	count, err := l.counter.IncrWithTTL(ctx, redisKey, windowTTL)
	if err != nil {
		return false, err
	}
	return count <= l.perMinute, nil
}

// Middleware rejects requests over the limit with 429. Limiter errors are
// logged and the request is let through.
func Middleware(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("ratelimit")
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests.",
				"details": "Rate limit exceeded, try again later.",
			})
			return
		}
		c.Next()
	}
}
