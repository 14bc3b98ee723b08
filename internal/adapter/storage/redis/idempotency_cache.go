package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"social-wallet/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis.
type IdempotencyCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewIdempotencyCache creates a Redis-backed cache of idempotency records. Entries expire after ttl.
func NewIdempotencyCache(client goredis.UniversalClient, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "wallet:idempotency:",
		ttl:    ttl,
	}
}

// Get retrieves a cached record by idempotency key.
// Returns nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode cached idempotency record: %w", err)
	}
	return &rec, nil
}

// Set stores a record with the configured TTL.
func (c *IdempotencyCache) Set(ctx context.Context, rec *domain.IdempotencyRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+rec.Key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
