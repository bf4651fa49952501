// Package ratelimit decides whether a client may make another request. The
// in-memory limiter keeps one token bucket per key; the Redis limiter shares
// a fixed window across processes and falls back to memory when Redis is
// unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Skryldev/socialhub/apierr"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the client should wait, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}

// Limiter is implemented by TokenBucket and RedisWindow.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Exceeded returns the 429 error reported for a rejected decision.
func Exceeded(d Decision, now time.Time) *apierr.Error {
	return apierr.New(apierr.ErrRateLimited, "Too many requests, retry in %d seconds", int(d.RetryAfter(now).Seconds()))
}

// ─────────────────────────────────────────────────────────────────────────────
// In-memory token buckets
// ─────────────────────────────────────────────────────────────────────────────

const defaultIdle = 10 * time.Minute

// TokenBucket rate-limits each key independently with golang.org/x/time/rate.
// Buckets idle for longer than the idle period are dropped.
type TokenBucket struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket allows rps requests per second per key with the given
// burst. Non-positive values fall back to 1.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    defaultIdle,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (t *TokenBucket) Allow(_ context.Context, key string) Decision {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) > t.idle {
		t.sweep(now)
	}
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now
	if tokens < 1 {
		resetAt = now.Add(time.Duration((1 - tokens) / float64(t.limit) * float64(time.Second)))
	}
	return Decision{Allowed: allowed, Limit: t.burst, Remaining: remaining, ResetAt: resetAt}
}

func (t *TokenBucket) sweep(now time.Time) {
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.idle {
			delete(t.buckets, k)
		}
	}
	t.lastSweep = now
}

// Len reports the number of live buckets.
func (t *TokenBucket) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis fixed window
// ─────────────────────────────────────────────────────────────────────────────

var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisWindow allows Limit requests per key in each Window, counted in Redis
// so that every process shares the budget.
type RedisWindow struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	prefix   string
	fallback Limiter
	logger   *slog.Logger
}

// RedisConfig configures NewRedis.
type RedisConfig struct {
	Limit  int
	Window time.Duration
	// Prefix namespaces the counters. Defaults to "socialhub:rl:".
	Prefix string
	// Fallback answers while Redis is unreachable. Nil allows every request.
	Fallback Limiter
	Logger   *slog.Logger
}

// NewRedis returns a limiter backed by client.
func NewRedis(client *redis.Client, cfg RedisConfig) *RedisWindow {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "socialhub:rl:"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisWindow{
		client:   client,
		limit:    cfg.Limit,
		window:   cfg.Window,
		prefix:   cfg.Prefix,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("socialhub/ratelimit: redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *RedisWindow) Allow(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) < 2 {
		l.logger.WarnContext(ctx, "socialhub/ratelimit: redis unavailable, using fallback", "error", err)
		return l.degrade(ctx, key)
	}

	count, ttl := res[0], res[1]
	if ttl < 0 {
		ttl = l.window.Milliseconds()
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Millisecond),
	}
}

func (l *RedisWindow) degrade(ctx context.Context, key string) Decision {
	if l.fallback != nil {
		return l.fallback.Allow(ctx, key)
	}
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: time.Now().Add(l.window)}
}
