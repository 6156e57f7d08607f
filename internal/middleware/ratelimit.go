package middleware

import (
    "context"
    "fmt"
    "math"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/jellydator/ttlcache/v3"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
    "golang.org/x/time/rate"

    "github.com/iliyamo/token-queue/internal/config"
)

// limiterScript is a token bucket kept in a Redis hash so every replica
// draws from the same budget.  It returns {allowed, remaining, retry_ms}.
var limiterScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// verdict is the outcome of one rate limit check.
type verdict struct {
    allowed   bool
    remaining int64
    retry     time.Duration
}

// bucket decides whether the request identified by key may proceed.  ok is
// false when the limiter itself failed and the request should pass.
type bucket func(c echo.Context, key string) (v verdict, ok bool)

// NewTokenBucket limits booking writes per client.  With Redis the budget
// is shared across replicas; without it each replica keeps its own
// per-key limiters, and idle ones are swept until ctx is done.
func NewTokenBucket(ctx context.Context, cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    var check bucket
    if rdb != nil {
        check = redisBucket(cfg, rdb, logger)
    } else {
        check = newLocalLimiter(ctx, cfg).check
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            v, ok := check(c, key)
            if !ok {
                return next(c)
            }

            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))

            if !v.allowed {
                secs := int(math.Ceil(v.retry.Seconds()))
                if secs < 0 { secs = 0 }
                c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
                if cfg.Debug {
                    logger.Debug("rate limited", zap.String("key", key), zap.Duration("retry", v.retry))
                }
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "too_many_requests",
                    "message":     "rate limit exceeded",
                    "retry_after": secs,
                })
            }
            if cfg.Debug {
                c.Response().Header().Set("X-RateLimit-Key", key)
            }
            return next(c)
        }
    }
}

func redisBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) bucket {
    return func(c echo.Context, key string) (verdict, bool) {
        args := []interface{}{
            time.Now().UnixMilli(),
            cfg.Capacity,
            1,
            cfg.RefillEvery.Milliseconds(),
            int64(cfg.TTL / time.Second),
        }
        vals, err := limiterScript.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
        if err != nil {
            logger.Warn("rate limit script failed", zap.String("key", key), zap.Error(err))
            return verdict{}, false
        }
        arr, ok := vals.([]interface{})
        if !ok || len(arr) != 3 {
            logger.Warn("unexpected rate limit result", zap.String("key", key), zap.Any("result", vals))
            return verdict{}, false
        }
        return verdict{
            allowed:   fmt.Sprint(arr[0]) == "1",
            remaining: asInt64(arr[1]),
            retry:     time.Duration(asInt64(arr[2])) * time.Millisecond,
        }, true
    }
}

// localLimiter keeps one x/time/rate limiter per key and forgets keys
// idle for longer than cfg.TTL.
type localLimiter struct {
    every    rate.Limit
    burst    int
    mu       sync.Mutex
    limiters *ttlcache.Cache[string, *rate.Limiter]
}

// newLocalLimiter starts the sweep of idle keys; it stops with ctx.
func newLocalLimiter(ctx context.Context, cfg config.RateLimitConfig) *localLimiter {
    l := &localLimiter{
        every:    rate.Every(cfg.RefillEvery),
        burst:    cfg.Capacity,
        limiters: ttlcache.New[string, *rate.Limiter](ttlcache.WithTTL[string, *rate.Limiter](cfg.TTL)),
    }
    go l.limiters.Start()
    go func() {
        <-ctx.Done()
        l.limiters.Stop()
    }()
    return l
}

func (l *localLimiter) check(_ echo.Context, key string) (verdict, bool) {
    l.mu.Lock()
    item := l.limiters.Get(key)
    if item == nil {
        item = l.limiters.Set(key, rate.NewLimiter(l.every, l.burst), ttlcache.DefaultTTL)
    }
    l.mu.Unlock()

    lim := item.Value()
    r := lim.Reserve()
    if !r.OK() {
        return verdict{}, false
    }
    if d := r.Delay(); d > 0 {
        r.Cancel()
        return verdict{allowed: false, retry: d}, true
    }
    return verdict{allowed: true, remaining: int64(lim.Tokens())}, true
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64: return t
    case int32: return int64(t)
    case int: return int64(t)
    case float64: return int64(t)
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil { return n }
    }
    return 0
}

// buildRateKey names the bucket a request draws from.  The route is always
// part of the key so creating and cancelling bookings have separate budgets.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case config.KeyByIP:
        parts = append(parts, "ip", ip)
    case config.KeyByUser:
        parts = append(parts, "user", SubjectFrom(c))
    case config.KeyByRoute:
    default:
        parts = append(parts, "ip", ip, "user", SubjectFrom(c))
    }
    parts = append(parts, c.Request().Method, c.Path())
    return strings.Join(parts, ":")
}
