package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether the cache and rate limiter backend answers.
type HealthCheck struct {
	client goredis.UniversalClient
}

func NewHealthCheck(client goredis.UniversalClient) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return h.client.Ping(ctx).Err()
}

func (h *HealthCheck) Name() string { return "redis" }
