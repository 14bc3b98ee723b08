package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const txColumns = `id, account_id, kind, status, amount, currency, balance_before, balance_after,
		description, external_ref, counterparty_ref, related_order_ref, metadata,
		created_at, completed_at, failed_at, cancelled_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	q Querier
}

// NewTransactionRepo creates a TransactionRepo issuing statements on q.
func NewTransactionRepo(q Querier) *TransactionRepo {
	return &TransactionRepo{q: q}
}

// Create inserts a new transaction.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.q.Exec(ctx, query,
		t.ID, t.AccountID, t.Kind, t.Status, t.Amount, t.Currency,
		t.BalanceBefore, t.BalanceAfter, t.Description, t.ExternalRef,
		t.CounterpartyRef, t.RelatedOrderRef, meta,
		t.CreatedAt, t.CompletedAt, t.FailedAt, t.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", translate(err))
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return r.scanOne(r.q.QueryRow(ctx, query, id), "transaction "+id.String())
}

// GetForUpdate fetches a transaction by UUID and locks its row.
func (r *TransactionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.q.QueryRow(ctx, query, id), "transaction "+id.String())
}

// GetByExternalRefForUpdate locks the transaction carrying ref. A completed row wins over
// pending ones; among equals the oldest is returned.
func (r *TransactionRepo) GetByExternalRefForUpdate(ctx context.Context, ref string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE external_ref = $1
		ORDER BY (status = 'completed') DESC, created_at ASC
		LIMIT 1 FOR UPDATE`
	return r.scanOne(r.q.QueryRow(ctx, query, ref), "external ref "+ref)
}

// FindCompletedByExternalRef returns the single completed transaction for ref.
func (r *TransactionRepo) FindCompletedByExternalRef(ctx context.Context, ref string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE external_ref = $1 AND status = 'completed'`
	return r.scanOne(r.q.QueryRow(ctx, query, ref), "completed external ref "+ref)
}

// SetExternalRef attaches the processor reference to a transaction.
func (r *TransactionRepo) SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `UPDATE transactions SET external_ref = $1 WHERE id = $2`

	tag, err := r.q.Exec(ctx, query, ref, id)
	if err != nil {
		return fmt.Errorf("set external ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// Complete persists a pending -> completed transition. The status guard makes a second
// completion a no-op that is reported as an error.
func (r *TransactionRepo) Complete(ctx context.Context, t *domain.Transaction) error {
	query := `UPDATE transactions
		SET status = $1, amount = $2, balance_before = $3, balance_after = $4, completed_at = $5
		WHERE id = $6 AND status = 'pending'`

	tag, err := r.q.Exec(ctx, query, t.Status, t.Amount, t.BalanceBefore, t.BalanceAfter, t.CompletedAt, t.ID)
	if err != nil {
		return fmt.Errorf("complete transaction: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s is not pending", t.ID)
	}
	return nil
}

// Close persists a pending -> failed or pending -> cancelled transition.
func (r *TransactionRepo) Close(ctx context.Context, t *domain.Transaction) error {
	query := `UPDATE transactions SET status = $1, failed_at = $2, cancelled_at = $3
		WHERE id = $4 AND status = 'pending'`

	tag, err := r.q.Exec(ctx, query, t.Status, t.FailedAt, t.CancelledAt, t.ID)
	if err != nil {
		return fmt.Errorf("close transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s is not pending", t.ID)
	}
	return nil
}

// ListByAccount fetches one page of an account's transactions, newest first.
func (r *TransactionRepo) ListByAccount(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIdx))
	args = append(args, params.AccountID)
	argIdx++

	if params.Filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Filter.Kind)
		argIdx++
	}
	if params.Filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Filter.Status)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, txColumns, where, argIdx, argIdx+1)
	args = append(args, params.Page.Size, params.Page.Offset())

	txns, err := r.queryMany(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txns, total, nil
}

// SumCompleted returns the signed sum of the account's completed transactions.
func (r *TransactionRepo) SumCompleted(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = $1 AND status = 'completed'`

	var sum int64
	if err := r.q.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum completed transactions: %w", err)
	}
	return sum, nil
}

// FindOrderPayment returns the completed payment debit leg of accountID for orderRef.
func (r *TransactionRepo) FindOrderPayment(ctx context.Context, accountID uuid.UUID, orderRef string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE account_id = $1 AND related_order_ref = $2
		  AND kind = 'payment' AND status = 'completed' AND amount < 0
		ORDER BY created_at ASC LIMIT 1`
	return r.scanOne(r.q.QueryRow(ctx, query, accountID, orderRef), "order payment "+orderRef)
}

// SumOrderRefunds returns the total credited to accountID by completed refunds for orderRef.
func (r *TransactionRepo) SumOrderRefunds(ctx context.Context, accountID uuid.UUID, orderRef string) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE account_id = $1 AND related_order_ref = $2
		  AND kind = 'refund' AND status = 'completed' AND amount > 0`

	var sum int64
	if err := r.q.QueryRow(ctx, query, accountID, orderRef).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum order refunds: %w", err)
	}
	return sum, nil
}

// ListStalePending reads a batch of old pending deposits without locking them. The sweeper
// locks each row with GetForUpdate and rechecks its status before acting.
func (r *TransactionRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE kind = 'deposit' AND status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	txns, err := r.queryMany(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepo) queryMany(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepo) scanOne(row pgx.Row, what string) (*domain.Transaction, error) {
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var meta []byte
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Kind, &t.Status, &t.Amount, &t.Currency,
		&t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.ExternalRef,
		&t.CounterpartyRef, &t.RelatedOrderRef, &meta,
		&t.CreatedAt, &t.CompletedAt, &t.FailedAt, &t.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return t, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 || string(b) == "{}" || string(b) == "null" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
