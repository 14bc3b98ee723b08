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

const accountColumns = `id, balance, currency, external_customer_ref, created_at, updated_at`

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	q Querier
}

// NewAccountRepo creates an AccountRepo issuing statements on q.
func NewAccountRepo(q Querier) *AccountRepo {
	return &AccountRepo{q: q}
}

// Create inserts an account. An existing row with the same id is left untouched.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.q.Exec(ctx, query,
		a.ID, a.Balance, a.Currency, a.ExternalCustomerRef, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID fetches an account by its UUID (without locking).
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.q.QueryRow(ctx, query, id), id)
}

// GetForUpdate fetches an account by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *AccountRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(r.q.QueryRow(ctx, query, id), id)
}

// UpdateBalance stores a new balance. The accounts_balance_non_negative check rejects overdrafts.
func (r *AccountRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	query := `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.q.Exec(ctx, query, balance, id)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// SetCustomerRef links the account to a processor customer unless a link already exists.
func (r *AccountRepo) SetCustomerRef(ctx context.Context, id uuid.UUID, customerRef string) error {
	query := `UPDATE accounts SET external_customer_ref = $1, updated_at = NOW()
		WHERE id = $2 AND external_customer_ref IS NULL`

	if _, err := r.q.Exec(ctx, query, customerRef, id); err != nil {
		return fmt.Errorf("set customer ref: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row, id uuid.UUID) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.Balance, &a.Currency, &a.ExternalCustomerRef, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}
