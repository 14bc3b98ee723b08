package ports

import (
	"context"
	"errors"
	"time"

	"social-wallet/internal/core/domain"

	"github.com/google/uuid"
)

// Repository sentinels. Adapters wrap these with fmt.Errorf("...: %w").
var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateExternalRef is returned when completing a transaction would give an
	// external reference a second completed transaction.
	ErrDuplicateExternalRef = errors.New("external reference already completed")
	// ErrDuplicateIdempotencyKey is returned when another scope recorded the key first.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// GetForUpdate reads the account and holds its row lock until the scope ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error
	SetCustomerRef(ctx context.Context, id uuid.UUID, customerRef string) error
}

// TransactionRepository defines persistence operations for ledger transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// GetByExternalRefForUpdate locks the transaction carrying ref, preferring a completed one.
	GetByExternalRefForUpdate(ctx context.Context, ref string) (*domain.Transaction, error)
	FindCompletedByExternalRef(ctx context.Context, ref string) (*domain.Transaction, error)
	SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error
	// Complete persists a pending -> completed transition including amount and balance snapshots.
	Complete(ctx context.Context, tx *domain.Transaction) error
	// Close persists a pending -> failed or pending -> cancelled transition.
	Close(ctx context.Context, tx *domain.Transaction) error
	ListByAccount(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	SumCompleted(ctx context.Context, accountID uuid.UUID) (int64, error)
	// FindOrderPayment returns the completed payment debit leg of accountID for orderRef.
	FindOrderPayment(ctx context.Context, accountID uuid.UUID, orderRef string) (*domain.Transaction, error)
	// SumOrderRefunds returns the total credited to accountID by completed refunds for orderRef.
	SumOrderRefunds(ctx context.Context, accountID uuid.UUID, orderRef string) (int64, error)
	// ListStalePending returns up to limit pending deposits created before cutoff, oldest first.
	// Callers lock each row with GetForUpdate before acting on it.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	AccountID uuid.UUID
	Filter    domain.TransactionFilter
	Page      domain.Page
}

// EventRepository persists ledger events.
type EventRepository interface {
	Create(ctx context.Context, event *domain.LedgerEvent) error
}

// IdempotencyRepository persists the outcome of keyed money operations.
type IdempotencyRepository interface {
	Create(ctx context.Context, rec *domain.IdempotencyRecord) error
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// Scope exposes repositories bound to one atomic unit of work.
type Scope interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Idempotency() IdempotencyRepository
}

// Store is the ledger's storage port. Its own repositories read outside any unit of work.
type Store interface {
	Scope
	// Within runs fn in a single atomic scope. Every write made through s becomes visible
	// together when fn returns nil, and none does otherwise.
	Within(ctx context.Context, fn func(ctx context.Context, s Scope) error) error
}
