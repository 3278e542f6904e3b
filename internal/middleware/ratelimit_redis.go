package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/internal/httputil"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// RedisLimiter is a fixed-window limiter shared across replicas. It fails
// open: redis being unreachable never blocks intake.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
	log    *logger.Logger
}

// NewRedisLimiter creates the shared limiter. A nil client yields a nil
// limiter, which allows everything.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, log *logger.Logger) *RedisLimiter {
	if client == nil {
		return nil
	}
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(rateLimitScript),
		limit:  limit,
		window: window,
		log:    log,
	}
}

// Allow reports whether the key has budget left in the current window.
func (l *RedisLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	if key == "" || l.limit <= 0 || l.window <= 0 {
		return true
	}
	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{"qm:rl:" + key}, ttl, l.limit).Int64()
	if err != nil {
		l.log.WithError(err).Debug("redis rate limit check failed, allowing")
		return true
	}
	return allowed == 1
}

// Handler returns the middleware handler, keyed like the in-process limiter.
func (l *RedisLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := GetUserID(r.Context())
		if key == "" {
			key = clientIP(r)
		}
		if !l.Allow(key) {
			l.log.WithField("key", key).
				WithField("path", r.URL.Path).
				Warn("rate limit exceeded")
			httputil.WriteError(w, apperrors.RateLimitExceeded(l.limit, l.window.String()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
