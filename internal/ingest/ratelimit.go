package ingest

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateConfig sets the token-bucket refill rate (events/second) and burst
// capacity applied per client to event submission.
type RateConfig struct {
	Rate  float64
	Burst float64
}

// RateLimiter throttles HTTP event submission with a Redis token bucket so
// the limit holds across reconciler replicas. Reads are never limited.
type RateLimiter struct {
	client    *redis.Client
	cfg       RateConfig
	luaScript *redis.Script
}

// NewRateLimiter constructs the limiter; nil when no Redis client is given.
func NewRateLimiter(client *redis.Client, cfg RateConfig) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{client: client, cfg: cfg, luaScript: redis.NewScript(tokenBucketLua)}
}

// Middleware enforces the limit on non-read methods.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.cfg.Rate <= 0 || l.cfg.Burst <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter, err := l.allow(r.Context(), clientIdentifier(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			if retryAfter > 0 {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, identifier string) (bool, time.Duration, error) {
	key := "fareflow:rl:" + identifier
	result, err := l.luaScript.Run(ctx, l.client, []string{key},
		time.Now().UnixMilli(), l.cfg.Rate, l.cfg.Burst, 1).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, redis.Nil
	}
	allowed, _ := values[0].(int64)
	var wait float64
	switch v := values[1].(type) {
	case int64:
		wait = float64(v)
	case string:
		wait, _ = strconv.ParseFloat(v, 64)
	}
	if allowed != 1 {
		return false, time.Duration(math.Ceil(wait*1000)) * time.Millisecond, nil
	}
	return true, 0, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'timestamp')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil then
  tokens = capacity
end
if last == nil then
  last = now_ms
end

local delta = now_ms - last
if delta < 0 then
  delta = 0
end
local refill = delta * rate / 1000
if refill > 0 then
  tokens = math.min(capacity, tokens + refill)
  last = now_ms
end

local allowed = tokens >= requested
local wait = 0
if allowed then
  tokens = tokens - requested
else
  wait = (requested - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'timestamp', last)
redis.call('PEXPIRE', key, math.ceil((capacity / rate) * 1000))

if allowed then
  return {1, 0}
else
  return {0, tostring(wait)}
end
`
