package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long processed event ids are remembered. Payment
// processors stop retrying deliveries well within this window.
const DefaultDedupTTL = 72 * time.Hour

// RedisDedup remembers applied webhook event ids under a TTL. The check and
// the mark are separate on purpose: the mark happens only after the event's
// transition has been persisted.
type RedisDedup struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDedup creates the dedup tracker. A non-positive ttl falls back to
// DefaultDedupTTL. Panics if client is nil.
func NewRedisDedup(client redis.UniversalClient, ttl time.Duration) *RedisDedup {
	if client == nil {
		panic("subscription: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Processed(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check event processed: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDedup) MarkProcessed(ctx context.Context, eventID string) error {
	if err := d.client.Set(ctx, dedupKey(eventID), 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func dedupKey(eventID string) string {
	return "billing:webhook:event:" + eventID
}
