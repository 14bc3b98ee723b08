package postgres

import (
	"context"
	"errors"
	"fmt"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	q Querier
}

// NewIdempotencyRepo creates an IdempotencyRepo issuing statements on q.
func NewIdempotencyRepo(q Querier) *IdempotencyRepo {
	return &IdempotencyRepo{q: q}
}

// Create inserts an idempotency record. A key recorded by a concurrent scope yields
// ports.ErrDuplicateIdempotencyKey once that scope commits.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_keys (key, account_id, operation, fingerprint, transaction_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ids := make([]string, len(rec.TransactionIDs))
	for i, id := range rec.TransactionIDs {
		ids[i] = id.String()
	}
	_, err := r.q.Exec(ctx, query, rec.Key, rec.AccountID, rec.Operation, rec.Fingerprint, ids, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", translate(err))
	}
	return nil
}

// Get fetches an idempotency record by key.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, account_id, operation, fingerprint, transaction_ids, created_at
		FROM idempotency_keys WHERE key = $1`

	rec := &domain.IdempotencyRecord{}
	var ids []string
	err := r.q.QueryRow(ctx, query, key).Scan(&rec.Key, &rec.AccountID, &rec.Operation, &rec.Fingerprint, &ids, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("idempotency key %s: %w", key, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	rec.TransactionIDs = make([]uuid.UUID, len(ids))
	for i, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("idempotency key %s: parse transaction id: %w", key, err)
		}
		rec.TransactionIDs[i] = id
	}
	return rec, nil
}
