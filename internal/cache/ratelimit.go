package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RateLimiter enforces per-tenant request budgets over a sliding one-minute
// window. It fails open: if Redis is unreachable the request is admitted and
// the caller marks the response degraded.
type RateLimiter struct {
	client *Client
	window time.Duration
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client, window: time.Minute}
}

// Allow returns whether the tenant has budget left, the remaining budget, and
// a retry-after hint for 429 responses. degraded is true when the limiter
// could not consult Redis at all.
func (r *RateLimiter) Allow(ctx context.Context, tenantID string, limit int) (allowed bool, remaining int, retryAfter time.Duration, degraded bool) {
	if limit <= 0 {
		return true, 0, 0, false
	}

	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	key := "ratelimit:" + tenantID
	now := time.Now()
	cutoff := now.Add(-r.window)

	pipe := r.client.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Rate limiter unavailable, admitting request")
		return true, 0, 0, true
	}

	count := int(countCmd.Val())
	if count >= limit {
		oldest, err := r.client.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
		retry := r.window
		if err == nil && len(oldest) == 1 {
			expiresAt := time.UnixMilli(int64(oldest[0].Score)).Add(r.window)
			if d := time.Until(expiresAt); d > 0 {
				retry = d
			}
		}
		return false, 0, retry, false
	}

	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()[:8])
	pipe = r.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, zMember(float64(now.UnixMilli()), member))
	pipe.Expire(ctx, key, r.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Rate limiter write failed, admitting request")
		return true, limit - count - 1, 0, true
	}

	return true, limit - count - 1, 0, false
}
