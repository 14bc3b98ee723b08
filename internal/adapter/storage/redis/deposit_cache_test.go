package redis

import (
	"context"
	"testing"
	"time"

	"social-wallet/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewDepositCache(client, 24*time.Hour)
	ctx := context.Background()

	d := &domain.ConfirmedDeposit{IntentRef: "pi_123", AccountID: uuid.New(), TransactionID: uuid.New()}

	// Get before set => nil
	result, err := cache.Get(ctx, d.IntentRef)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, d))

	result, err = cache.Get(ctx, d.IntentRef)
	require.NoError(t, err)
	assert.Equal(t, d, result)

	assert.True(t, s.Exists("wallet:deposit:pi_123"))
	assert.Equal(t, 24*time.Hour, s.TTL("wallet:deposit:pi_123"))
}

func TestDepositCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewDepositCache(client, time.Second)
	ctx := context.Background()

	d := &domain.ConfirmedDeposit{IntentRef: "pi_456", AccountID: uuid.New(), TransactionID: uuid.New()}
	require.NoError(t, cache.Set(ctx, d))

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, d.IntentRef)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestDepositCache_CorruptEntry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewDepositCache(client, time.Hour)

	require.NoError(t, s.Set("wallet:deposit:pi_bad", "not-json"))

	_, err := cache.Get(context.Background(), "pi_bad")
	assert.Error(t, err)
}

func TestDepositCache_RedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewDepositCache(client, time.Hour)
	s.Close()

	_, err := cache.Get(context.Background(), "pi_1")
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), &domain.ConfirmedDeposit{IntentRef: "pi_1"}))
}
