package redis

import (
	"context"
	"fmt"
	"time"

	"social-wallet/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache and limiter calls sit on the request path, so socket waits are kept short.
const (
	dialTimeout = 3 * time.Second
	ioTimeout   = 500 * time.Millisecond
	clientName  = "social-wallet"
)

// NewClient connects to Redis and fails if the first PING does not answer.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   clientName,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr(), err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Dur("confirm_cache_ttl", cfg.ConfirmCacheTTL).
		Dur("idempotency_ttl", cfg.IdempotencyTTL).
		Msg("Redis connected")

	return client, nil
}
