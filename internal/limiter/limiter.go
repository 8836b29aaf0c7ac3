// Package limiter throttles mutating requests per principal.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/xscopehub/consultd/internal/config"
)

// ErrRateLimited indicates the principal exceeded its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter keeps a token bucket per principal in process and, when a redis
// client is configured, a sliding window shared by every replica.
type Limiter struct {
	enabled bool

	rps    float64
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	redis redis.UniversalClient
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// New builds a Limiter from configuration. A redis address enables the
// shared window; the client is created lazily by go-redis.
func New(cfg config.RateLimiterConfig) *Limiter {
	if !cfg.Enabled {
		return &Limiter{enabled: false}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	l := &Limiter{
		enabled: true,
		rps:     cfg.RequestsPerSecond,
		burst:   burst,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	if cfg.RedisAddr != "" {
		l.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return l
}

// Allow reports ErrRateLimited when principal has no budget left for scope.
// Redis failures are returned as is so the caller can fail open.
func (l *Limiter) Allow(ctx context.Context, principal, scope string) error {
	if !l.enabled || principal == "" {
		return nil
	}
	key := principal + ":" + scope

	if !l.allowLocal(key) {
		return ErrRateLimited
	}
	if l.redis != nil {
		allowed, err := l.allowRedis(ctx, key)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrRateLimited
		}
	}
	return nil
}

func (l *Limiter) allowLocal(key string) bool {
	now := l.now()
	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		limit := rate.Inf
		if l.rps > 0 {
			limit = rate.Limit(l.rps)
		}
		b = &bucket{lim: rate.NewLimiter(limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the window. A full bucket and a
// missing one behave the same, so eviction never grants extra budget.
func (l *Limiter) Sweep() int {
	if !l.enabled {
		return 0
	}
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Run sweeps idle buckets every window until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	if !l.enabled {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) Close() error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Close()
}

var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

func (l *Limiter) allowRedis(ctx context.Context, key string) (bool, error) {
	now := l.now()
	member := now.UnixNano()
	res, err := slidingWindow.Run(ctx, l.redis, []string{"consult:rate:" + key},
		now.UnixMilli(), l.window.Milliseconds(), l.burst, member).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
