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

// DepositCache implements ports.DepositCache using Redis.
type DepositCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewDepositCache creates a Redis-backed cache of confirmed deposits. Entries expire after ttl.
func NewDepositCache(client goredis.UniversalClient, ttl time.Duration) *DepositCache {
	return &DepositCache{
		client: client,
		prefix: "wallet:",
		ttl:    ttl,
	}
}

// Get retrieves a confirmed deposit by intent reference.
// Returns nil, nil if the key does not exist.
func (c *DepositCache) Get(ctx context.Context, intentRef string) (*domain.ConfirmedDeposit, error) {
	val, err := c.client.Get(ctx, c.key(intentRef)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis deposit get: %w", err)
	}

	var d domain.ConfirmedDeposit
	if err := json.Unmarshal(val, &d); err != nil {
		return nil, fmt.Errorf("decode cached deposit: %w", err)
	}
	return &d, nil
}

// Set stores a confirmed deposit with the configured TTL.
func (c *DepositCache) Set(ctx context.Context, d *domain.ConfirmedDeposit) error {
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deposit: %w", err)
	}
	if err := c.client.Set(ctx, c.key(d.IntentRef), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis deposit set: %w", err)
	}
	return nil
}

func (c *DepositCache) key(intentRef string) string {
	return c.prefix + domain.BuildDepositKey(intentRef)
}
