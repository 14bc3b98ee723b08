package postgres

import (
	"context"
	"testing"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64        { return &v }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func newTestTransaction(accountID uuid.UUID) *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	counterparty := uuid.New()
	return &domain.Transaction{
		ID:              uuid.New(),
		AccountID:       accountID,
		Kind:            domain.KindTransfer,
		Status:          domain.StatusCompleted,
		Amount:          -3000,
		Currency:        "USD",
		BalanceBefore:   int64Ptr(10000),
		BalanceAfter:    int64Ptr(7000),
		Description:     "dinner split",
		ExternalRef:     nil,
		CounterpartyRef: &counterparty,
		RelatedOrderRef: nil,
		Metadata:        map[string]string{"note": "thanks"},
		CreatedAt:       now,
		CompletedAt:     &now,
	}
}

func txColumnNames() []string {
	return []string{"id", "account_id", "kind", "status", "amount", "currency", "balance_before", "balance_after",
		"description", "external_ref", "counterparty_ref", "related_order_ref", "metadata",
		"created_at", "completed_at", "failed_at", "cancelled_at"}
}

func txValues(t *domain.Transaction) []any {
	meta, _ := encodeMetadata(t.Metadata)
	return []any{
		t.ID, t.AccountID, t.Kind, t.Status, t.Amount, t.Currency,
		t.BalanceBefore, t.BalanceAfter, t.Description, t.ExternalRef,
		t.CounterpartyRef, t.RelatedOrderRef, meta,
		t.CreatedAt, t.CompletedAt, t.FailedAt, t.CancelledAt,
	}
}

func txRow(txns ...*domain.Transaction) *pgxmock.Rows {
	rows := pgxmock.NewRows(txColumnNames())
	for _, t := range txns {
		rows.AddRow(txValues(t)...)
	}
	return rows
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txValues(txn)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Create_DuplicateCompletedRef(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(anyArgs(17)...).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: completedExternalRefIndex})

	err = repo.Create(context.Background(), txn)
	assert.ErrorIs(t, err, ports.ErrDuplicateExternalRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Create_OtherUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(anyArgs(17)...).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "transactions_pkey"})

	err = NewTransactionRepo(mock).Create(context.Background(), newTestTransaction(uuid.New()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrDuplicateExternalRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// anyArgs matches n statement arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(txRow(txn))

	got, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, domain.KindTransfer, got.Kind)
	assert.Equal(t, int64(7000), *got.BalanceAfter)
	assert.Equal(t, "thanks", got.Metadata["note"])
	assert.Equal(t, *txn.CounterpartyRef, *got.CounterpartyRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(txColumnNames()))

	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id = \\$1 FOR UPDATE").
		WithArgs(txn.ID).
		WillReturnRows(txRow(txn))

	_, err = repo.GetForUpdate(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByExternalRefForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())
	txn.Kind = domain.KindDeposit
	txn.Status = domain.StatusPending
	txn.ExternalRef = strPtr("pi_123")

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE external_ref = \\$1\\s+ORDER BY \\(status = 'completed'\\) DESC.+FOR UPDATE").
		WithArgs("pi_123").
		WillReturnRows(txRow(txn))

	got, err := repo.GetByExternalRefForUpdate(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", *got.ExternalRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_FindCompletedByExternalRef_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE external_ref = \\$1 AND status = 'completed'").
		WithArgs("pi_404").
		WillReturnRows(pgxmock.NewRows(txColumnNames()))

	_, err = repo.FindCompletedByExternalRef(context.Background(), "pi_404")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_SetExternalRef(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE transactions SET external_ref").
		WithArgs("pi_1", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE transactions SET external_ref").
		WithArgs("pi_1", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.SetExternalRef(context.Background(), id, "pi_1"))
	assert.ErrorIs(t, repo.SetExternalRef(context.Background(), id, "pi_1"), ports.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Complete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())
	txn.Kind = domain.KindDeposit
	txn.Amount = 5000
	txn.BalanceBefore = int64Ptr(0)
	txn.BalanceAfter = int64Ptr(5000)

	mock.ExpectExec("UPDATE transactions\\s+SET status = \\$1.+WHERE id = \\$6 AND status = 'pending'").
		WithArgs(txn.Status, txn.Amount, txn.BalanceBefore, txn.BalanceAfter, txn.CompletedAt, txn.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Complete(context.Background(), txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Complete_Errors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectExec("UPDATE transactions").
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE transactions").
		WithArgs(anyArgs(6)...).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: completedExternalRefIndex, Detail: "Key (external_ref)=(pi_1) already exists."})

	err = repo.Complete(context.Background(), txn)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrDuplicateExternalRef)
	assert.Contains(t, err.Error(), "not pending")

	err = repo.Complete(context.Background(), txn)
	assert.ErrorIs(t, err, ports.ErrDuplicateExternalRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Close(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())
	txn.Status = domain.StatusCancelled
	txn.CancelledAt = timePtr(time.Now().UTC())

	mock.ExpectExec("UPDATE transactions SET status = \\$1, failed_at = \\$2, cancelled_at = \\$3").
		WithArgs(txn.Status, txn.FailedAt, txn.CancelledAt, txn.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Close(context.Background(), txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	accountID := uuid.New()
	t1 := newTestTransaction(accountID)
	t2 := newTestTransaction(accountID)
	kind := domain.KindTransfer

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions WHERE account_id = \\$1 AND kind = \\$2").
		WithArgs(accountID, kind).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE account_id = \\$1 AND kind = \\$2\\s+ORDER BY created_at DESC, id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(accountID, kind, 10, 10).
		WillReturnRows(txRow(t1, t2))

	txns, total, err := repo.ListByAccount(context.Background(), ports.TransactionListParams{
		AccountID: accountID,
		Filter:    domain.TransactionFilter{Kind: &kind},
		Page:      domain.Page{Number: 2, Size: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.Len(t, txns, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_SumCompleted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	accountID := uuid.New()

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM transactions WHERE account_id = \\$1 AND status = 'completed'").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(4200)))

	sum, err := repo.SumCompleted(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_OrderQueries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	accountID := uuid.New()
	payment := newTestTransaction(accountID)
	payment.Kind = domain.KindPayment
	payment.RelatedOrderRef = strPtr("ord-1")

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE account_id = \\$1 AND related_order_ref = \\$2\\s+AND kind = 'payment'").
		WithArgs(accountID, "ord-1").
		WillReturnRows(txRow(payment))
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM transactions\\s+WHERE account_id = \\$1 AND related_order_ref = \\$2\\s+AND kind = 'refund'").
		WithArgs(accountID, "ord-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(1000)))

	got, err := repo.FindOrderPayment(context.Background(), accountID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)

	sum, err := repo.SumOrderRefunds(context.Background(), accountID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListStalePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	cutoff := time.Now().Add(-15 * time.Minute)
	stale := newTestTransaction(uuid.New())
	stale.Kind = domain.KindDeposit
	stale.Status = domain.StatusPending

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE kind = 'deposit' AND status = 'pending' AND created_at < \\$1\\s+ORDER BY created_at ASC\\s+LIMIT \\$2$").
		WithArgs(cutoff, 50).
		WillReturnRows(txRow(stale))

	txns, err := repo.ListStalePending(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, stale.ID, txns[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataEncoding(t *testing.T) {
	b, err := encodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	m, err := decodeMetadata(b)
	require.NoError(t, err)
	assert.Nil(t, m)

	b, err = encodeMetadata(map[string]string{"a": "b"})
	require.NoError(t, err)
	m, err = decodeMetadata(b)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "b"}, m)

	_, err = decodeMetadata([]byte("not json"))
	assert.Error(t, err)
}
