package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// TryLock takes key for ttl unless someone else holds it. The lock is never
// released explicitly; it lapses with the ttl.
func (c *Cache) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "lock:"+key, owner, ttl)
	return res.Val(), res.Err()
}
