// Package idempotency remembers which events this instance already
// delivered so redelivered events are dropped.
//
// Primary backend: Redis SETNX with TTL. In development an in-memory store
// with the same TTL semantics is used.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// Store checks whether an event has already been processed and marks it.
type Store interface {
	// Check returns true if eventID was already processed.
	// If not seen, it atomically marks it as processed.
	Check(ctx context.Context, eventID string) (duplicate bool, err error)
}

// NewStore returns a Redis store when rdb is set, otherwise the in-memory
// one. prefix scopes keys, typically per service instance, so instances
// sharing Redis each deliver every event once. In production the
// in-memory fallback is refused.
func NewStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, isProd bool) (Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if rdb != nil {
		return newRedisStore(rdb, prefix, ttl), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_URL for delivery dedup; in-memory store is not allowed")
	}
	return newMemoryStore(ttl), nil
}
