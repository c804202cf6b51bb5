package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seorin-works/backend-atelier/internal/cache"
)

// PolicyCache keeps the resolved active policy per channel in redis so
// quote bursts do not hit Postgres for every request.
type PolicyCache struct {
	R      *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

// Get returns the cached active policy for the channel, if present.
func (c *PolicyCache) Get(ctx context.Context, channelID uuid.UUID) (Policy, bool) {
	if c == nil || c.R == nil {
		return Policy{}, false
	}
	raw, err := c.R.Get(ctx, cache.KeyActivePolicy(channelID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Logger.Warn().Err(err).Msg("policy cache read failed")
		}
		return Policy{}, false
	}
	var policy Policy
	if err := json.Unmarshal(raw, &policy); err != nil {
		c.Logger.Warn().Err(err).Msg("policy cache entry corrupt, dropping")
		c.R.Del(ctx, cache.KeyActivePolicy(channelID))
		return Policy{}, false
	}
	return policy, true
}

// Set stores the active policy for its channel.
func (c *PolicyCache) Set(ctx context.Context, policy Policy) {
	if c == nil || c.R == nil {
		return
	}
	raw, err := json.Marshal(policy)
	if err != nil {
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := c.R.Set(ctx, cache.KeyActivePolicy(policy.ChannelID), raw, ttl).Err(); err != nil {
		c.Logger.Warn().Err(err).Msg("policy cache write failed")
	}
}

// Invalidate drops the cached policy for a channel. Called on every
// policy mutation so stale parameters never outlive the TTL.
func (c *PolicyCache) Invalidate(ctx context.Context, channelID uuid.UUID) {
	if c == nil || c.R == nil {
		return
	}
	if err := c.R.Del(ctx, cache.KeyActivePolicy(channelID)).Err(); err != nil {
		c.Logger.Warn().Err(err).Msg("policy cache invalidate failed")
	}
}
