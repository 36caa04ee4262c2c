package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket is a fixed-window attempt counter in redis, used as a cheap
// pre-gate in front of the scoring query. A nil client disables the gate.
type Bucket struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewBucket(client *redis.Client, limit int, window time.Duration) *Bucket {
	return &Bucket{client: client, limit: limit, window: window}
}

// Allow counts one attempt for the key and reports whether it is still under
// the window limit. Redis unavailability fails open: the scoring query is
// the authoritative gate.
func (b *Bucket) Allow(ctx context.Context, tenantID int64, phoneNumber string) (bool, error) {
	if b == nil || b.client == nil || b.limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("baridi:rl:%d:%s", tenantID, phoneNumber)
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := b.client.Expire(ctx, key, b.window).Err(); err != nil {
			return true, err
		}
	}
	return count <= int64(b.limit), nil
}
