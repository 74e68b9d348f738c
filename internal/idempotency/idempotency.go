// Package idempotency remembers the response to a keyed POST so a retried
// request gets the same answer instead of repeating the transition.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/parking-bookings/internal/adapters/redis"
)

type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	redis Backend
	ttl   time.Duration
}

func NewIdempotency(redis Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// scoped keeps two users who pick the same key, or one user reusing a key on
// another route, from seeing each other's responses.
func scoped(user uuid.UUID, route, key string) string {
	return user.String() + ":" + route + ":" + key
}

func (i *Idempotency) Get(ctx context.Context, user uuid.UUID, route, key string) (*Response, error) {
	resp, err := i.redis.Get(ctx, scoped(user, route, key))
	if err != nil || resp == nil {
		return nil, err
	}
	return &Response{Status: resp.Status, ContentType: resp.ContentType, Result: resp.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, user uuid.UUID, route, key string, resp Response) error {
	return i.redis.Set(ctx, scoped(user, route, key), redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}
