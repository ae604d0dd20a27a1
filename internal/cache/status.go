// Package cache keeps rendered status responses for terminal tasks in Redis.
// A terminal task never changes again, so its poll response is immutable and
// safe to serve without a database round trip.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 10 * time.Minute
)

// StatusCache caches poll responses keyed by task id.
type StatusCache struct {
	client *redis.Client
}

// NewStatusCache constructs a StatusCache.
func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

// Get returns the cached response body, or ok=false on miss or error.
func (c *StatusCache) Get(ctx context.Context, taskID string) ([]byte, bool) {
	data, err := c.client.Get(ctx, statusKeyPrefix+taskID).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a rendered response body with a TTL.
func (c *StatusCache) Set(ctx context.Context, taskID string, body []byte) error {
	if err := c.client.Set(ctx, statusKeyPrefix+taskID, body, statusTTL).Err(); err != nil {
		return fmt.Errorf("cache status: %w", err)
	}
	return nil
}
