package cache

import (
	"context"
	"time"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/models"
)

const challengeKeyPrefix = "pbi:challenge:"

// ChallengeCache is an optional Redis cache of challenges keyed by id.
// ChallengeRepository does not use it: GetByID reads Postgres directly
// and MarkUsed does not call Invalidate, and nothing in this repository
// constructs a ChallengeCache. Get reports a miss on any Redis error.
type ChallengeCache struct {
	client *Client
	ttl    time.Duration
}

// NewChallengeCache wraps client with the given cache TTL. The TTL is
// used as given; no cap is applied.
func NewChallengeCache(client *Client, ttl time.Duration) *ChallengeCache {
	return &ChallengeCache{client: client, ttl: ttl}
}

// Get returns a cached challenge, or (nil, false) on any miss/error.
func (c *ChallengeCache) Get(ctx context.Context, id string) (*models.Challenge, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	var ch models.Challenge
	if err := c.client.GetJSON(ctx, challengeKeyPrefix+id, &ch); err != nil {
		return nil, false
	}
	return &ch, true
}

// Put caches a challenge for ttl, ignoring errors (best-effort only).
func (c *ChallengeCache) Put(ctx context.Context, ch *models.Challenge) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.SetJSON(ctx, challengeKeyPrefix+ch.ID, ch, c.ttl)
}

// Invalidate removes a cached entry.
func (c *ChallengeCache) Invalidate(ctx context.Context, id string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Delete(ctx, challengeKeyPrefix+id)
}
