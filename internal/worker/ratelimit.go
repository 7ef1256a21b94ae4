package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// DayCounter mirrors granted tokens into the store so limits survive a
// Redis flush.
type DayCounter interface {
	Increment(ctx context.Context, channel domain.Channel, resource string, day time.Time) (int, error)
}

// RateLimiter grants per-resource daily send tokens with an atomic
// increment-if-under-cap in Redis. A GET then INCR pair would race
// between workers; the Lua script closes that window.
type RateLimiter struct {
	rdb    *redis.Client
	caps   map[domain.Channel]int
	mirror DayCounter
	script *redis.Script
	log    *logger.Logger
}

const acquireLuaScript = `
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > cap then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// NewRateLimiter builds the limiter. caps maps channel to per-resource
// daily cap; a missing or zero cap means unbounded. mirror may be nil.
func NewRateLimiter(rdb *redis.Client, caps map[domain.Channel]int, mirror DayCounter) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		caps:   caps,
		mirror: mirror,
		script: redis.NewScript(acquireLuaScript),
		log:    logger.For("ratelimit"),
	}
}

// Acquire takes one send token for (channel, resource) on the UTC day.
// Returns false when the resource is at cap; the caller re-queues for
// the next window.
func (r *RateLimiter) Acquire(ctx context.Context, channel domain.Channel, resource string, now time.Time) (bool, error) {
	limit, capped := r.caps[channel]
	if !capped || limit <= 0 {
		r.mirrorGrant(ctx, channel, resource, now)
		return true, nil
	}

	day := now.UTC().Format("2006-01-02")
	key := fmt.Sprintf("rl:%s:%s:%s", channel, resource, day)

	result, err := r.script.Run(ctx, r.rdb, []string{key},
		limit,
		int((25 * time.Hour).Seconds()),
	).Slice()
	if err != nil {
		return false, errs.Wrap(errs.Internal, "ratelimit.script_failed", err)
	}

	allowed := result[0].(int64) == 1
	if !allowed {
		r.log.Debug("rate limit hit",
			"channel", string(channel), "resource", resource, "used", result[1].(int64))
		return false, nil
	}

	r.mirrorGrant(ctx, channel, resource, now)
	return true, nil
}

// mirrorGrant records the granted token durably. Redis already enforced
// the cap, so a mirror failure only degrades reporting.
func (r *RateLimiter) mirrorGrant(ctx context.Context, channel domain.Channel, resource string, now time.Time) {
	if r.mirror == nil {
		return
	}
	if _, err := r.mirror.Increment(ctx, channel, resource, now); err != nil {
		r.log.Warn("rate limit mirror failed",
			"channel", string(channel), "resource", resource, "error", err.Error())
	}
}
