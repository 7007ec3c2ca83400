// Package ratelimit gates how fast a workspace may hand messages to the
// provider. It is pure admission control: denied callers re-queue or drop,
// nothing here delays or buffers.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Tier is a workspace billing tier with its per-window send ceiling.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierLimits = map[Tier]int{
	TierFree:       10,
	TierBasic:      100,
	TierPremium:    500,
	TierEnterprise: 2000,
}

// Result reports the outcome of one admission check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// TierLookup resolves a workspace to its tier. Unknown workspaces get the
// free tier.
type TierLookup func(workspaceID string) Tier

// Limiter counts sends per (workspace, message type, window) in Redis.
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	tierOf TierLookup
}

// New builds a Limiter over the given Redis client. tierOf may be nil, in
// which case every workspace is treated as free tier.
func New(rdb *redis.Client, window time.Duration, tierOf TierLookup) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if tierOf == nil {
		tierOf = func(string) Tier { return TierFree }
	}
	return &Limiter{rdb: rdb, window: window, tierOf: tierOf}
}

// CheckAndIncrement atomically counts one send attempt against the current
// window. Once the ceiling is reached the counter is rolled back so it
// never runs past the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, workspaceID, messageType string) (*Result, error) {
	tier := l.tierOf(workspaceID)
	limit, ok := tierLimits[tier]
	if !ok {
		limit = tierLimits[TierFree]
	}

	windowStart := time.Now().UTC().Truncate(l.window)
	resetAt := windowStart.Add(l.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", workspaceID, messageType, windowStart.Unix())

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		// first hit in this window owns the key TTL
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return nil, fmt.Errorf("setting rate limit TTL: %w", err)
		}
	}

	if count > int64(limit) {
		if err := l.rdb.Decr(ctx, key).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to roll back denied increment")
		}
		log.Debug().
			Str("workspaceID", workspaceID).
			Str("messageType", messageType).
			Int("limit", limit).
			Msg("Rate limit exceeded")
		return &Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, nil
	}

	return &Result{
		Allowed:   true,
		Remaining: limit - int(count),
		Limit:     limit,
		ResetAt:   resetAt,
	}, nil
}

// Window returns the configured window length, used by callers that delay
// re-queued work until the counter resets.
func (l *Limiter) Window() time.Duration {
	return l.window
}
