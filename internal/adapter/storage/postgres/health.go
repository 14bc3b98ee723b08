package postgres

import (
	"context"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether the ledger database answers.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return h.pool.Ping(ctx)
}

func (h *HealthCheck) Name() string { return "postgresql" }
