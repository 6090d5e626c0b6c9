package storage

import (
	"context"
	"time"

	"PPChat/global"

	"github.com/redis/go-redis/v9"
)

// Fixed window counter.
// KEYS[1] = limiter key
// ARGV[1] = window in ms
// ARGV[2] = quota
// 返回：0 = allowed；>0 = ms until the window resets
const luaWindowLimit = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
  end
  return ttl
end
return 0
`

var windowLimitScript = redis.NewScript(luaWindowLimit)

func LimiterKey(userGUID, connID string) string { return "ws_limiter:" + userGUID + ":" + connID }

// WindowLimiter admits at most RateLimitTimes frames per RateLimitWindow per key.
type WindowLimiter struct {
	rdb    redis.Scripter
	limits func() (int, time.Duration)
}

func NewWindowLimiter(rdb redis.Scripter) *WindowLimiter {
	return &WindowLimiter{
		rdb: rdb,
		limits: func() (int, time.Duration) {
			t := global.Current()
			return t.RateLimitTimes, t.RateLimitWindow
		},
	}
}

// NewFixedWindowLimiter pins the quota instead of following the live tunables.
func NewFixedWindowLimiter(rdb redis.Scripter, times int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		rdb:    rdb,
		limits: func() (int, time.Duration) { return times, window },
	}
}

// Allow counts one hit for key. When refused, retryAfter is the remaining window.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error) {
	times, window := l.limits()
	ms, err := windowLimitScript.Run(ctx, l.rdb, []string{key}, window.Milliseconds(), times).Int64()
	if err != nil {
		return false, 0, err
	}
	if ms > 0 {
		return false, time.Duration(ms) * time.Millisecond, nil
	}
	return true, 0, nil
}
