package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, s *Store, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.Accounts().Create(context.Background(), &domain.Account{
		ID: id, Balance: balance, Currency: "USD", CreatedAt: time.Now(),
	}))
	return id
}

func strPtr(s string) *string { return &s }

func TestWithin_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 100)

	boom := errors.New("boom")
	err := s.Within(ctx, func(ctx context.Context, sc ports.Scope) error {
		require.NoError(t, sc.Accounts().UpdateBalance(ctx, id, 40))
		require.NoError(t, sc.Transactions().Create(ctx, &domain.Transaction{
			ID: uuid.New(), AccountID: id, Kind: domain.KindWithdrawal, Status: domain.StatusCompleted, Amount: -60,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := s.Accounts().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)

	_, total, err := s.Transactions().ListByAccount(ctx, ports.TransactionListParams{AccountID: id, Page: domain.Page{Number: 1, Size: 10}})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestWithin_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 100)

	require.NoError(t, s.Within(ctx, func(ctx context.Context, sc ports.Scope) error {
		return sc.Accounts().UpdateBalance(ctx, id, 70)
	}))

	acct, err := s.Accounts().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(70), acct.Balance)
}

func TestWithin_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewStore().Within(ctx, func(context.Context, ports.Scope) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestAccounts_NotFoundAndNegativeBalance(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Accounts().GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ports.ErrNotFound)

	id := seedAccount(t, s, 10)
	assert.Error(t, s.Accounts().UpdateBalance(ctx, id, -1))
}

func TestAccounts_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 10)

	require.NoError(t, s.Accounts().Create(ctx, &domain.Account{ID: id, Balance: 999, Currency: "EUR"}))

	acct, err := s.Accounts().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)
	assert.Equal(t, "USD", acct.Currency)
}

func TestAccounts_SetCustomerRefKeepsExistingLink(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 0)

	require.NoError(t, s.Accounts().SetCustomerRef(ctx, id, "cus_first"))
	require.NoError(t, s.Accounts().SetCustomerRef(ctx, id, "cus_second"))

	acct, err := s.Accounts().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cus_first", *acct.ExternalCustomerRef)
}

func TestTransactions_UniqueCompletedExternalRef(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 0)

	first := &domain.Transaction{ID: uuid.New(), AccountID: id, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: 50, ExternalRef: strPtr("pi_1")}
	second := &domain.Transaction{ID: uuid.New(), AccountID: id, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: 50, ExternalRef: strPtr("pi_1")}
	require.NoError(t, s.Transactions().Create(ctx, first))
	require.NoError(t, s.Transactions().Create(ctx, second), "pending duplicates are allowed")

	require.NoError(t, first.Complete(0, 50, time.Now()))
	require.NoError(t, s.Transactions().Complete(ctx, first))

	require.NoError(t, second.Complete(0, 50, time.Now()))
	err := s.Transactions().Complete(ctx, second)
	assert.ErrorIs(t, err, ports.ErrDuplicateExternalRef)

	got, err := s.Transactions().GetByExternalRefForUpdate(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "completed transaction is preferred")
}

func TestTransactions_CompleteRejectsNonPending(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 0)

	tx := &domain.Transaction{ID: uuid.New(), AccountID: id, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: 5}
	require.NoError(t, s.Transactions().Create(ctx, tx))
	require.NoError(t, tx.Close(domain.StatusCancelled, time.Now()))
	require.NoError(t, s.Transactions().Close(ctx, tx))

	again := *tx
	again.Status = domain.StatusCompleted
	assert.Error(t, s.Transactions().Complete(ctx, &again))
}

func TestTransactions_ListByAccount_OrderFilterPage(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 0)
	other := seedAccount(t, s, 0)

	base := time.Now().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		kind := domain.KindDeposit
		if i%2 == 1 {
			kind = domain.KindTransfer
		}
		tx := &domain.Transaction{
			ID: uuid.New(), AccountID: id, Kind: kind, Status: domain.StatusCompleted,
			Amount: int64(i + 1), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Transactions().Create(ctx, tx))
		ids = append(ids, tx.ID)
	}
	require.NoError(t, s.Transactions().Create(ctx, &domain.Transaction{ID: uuid.New(), AccountID: other, Kind: domain.KindDeposit, Status: domain.StatusCompleted, Amount: 9}))

	page, total, err := s.Transactions().ListByAccount(ctx, ports.TransactionListParams{AccountID: id, Page: domain.Page{Number: 1, Size: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID, "newest first")
	assert.Equal(t, ids[3], page[1].ID)

	page, _, err = s.Transactions().ListByAccount(ctx, ports.TransactionListParams{AccountID: id, Page: domain.Page{Number: 3, Size: 2}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	kind := domain.KindTransfer
	page, total, err = s.Transactions().ListByAccount(ctx, ports.TransactionListParams{
		AccountID: id, Filter: domain.TransactionFilter{Kind: &kind}, Page: domain.Page{Number: 1, Size: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, tx := range page {
		assert.Equal(t, domain.KindTransfer, tx.Kind)
	}

	page, _, err = s.Transactions().ListByAccount(ctx, ports.TransactionListParams{AccountID: id, Page: domain.Page{Number: 9, Size: 10}})
	require.NoError(t, err)
	assert.Empty(t, page)

	assert.NotPanics(t, func() {
		page, total, err = s.Transactions().ListByAccount(ctx, ports.TransactionListParams{AccountID: id, Page: domain.Page{Number: 1<<62 + 1, Size: 2}})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Empty(t, page)
}

func TestTransactions_OrderQueries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	customer := seedAccount(t, s, 0)
	order := "ord-1"

	payment := &domain.Transaction{ID: uuid.New(), AccountID: customer, Kind: domain.KindPayment, Status: domain.StatusCompleted, Amount: -80, RelatedOrderRef: &order}
	refund := &domain.Transaction{ID: uuid.New(), AccountID: customer, Kind: domain.KindRefund, Status: domain.StatusCompleted, Amount: 30, RelatedOrderRef: &order}
	require.NoError(t, s.Transactions().Create(ctx, payment))
	require.NoError(t, s.Transactions().Create(ctx, refund))

	got, err := s.Transactions().FindOrderPayment(ctx, customer, order)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)

	_, err = s.Transactions().FindOrderPayment(ctx, customer, "ord-unknown")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	sum, err := s.Transactions().SumOrderRefunds(ctx, customer, order)
	require.NoError(t, err)
	assert.Equal(t, int64(30), sum)

	total, err := s.Transactions().SumCompleted(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), total)
}

func TestTransactions_ListStalePending(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 0)

	old := &domain.Transaction{ID: uuid.New(), AccountID: id, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: 1, CreatedAt: time.Now().Add(-time.Hour)}
	fresh := &domain.Transaction{ID: uuid.New(), AccountID: id, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: 1, CreatedAt: time.Now()}
	require.NoError(t, s.Transactions().Create(ctx, old))
	require.NoError(t, s.Transactions().Create(ctx, fresh))

	stale, err := s.Transactions().ListStalePending(ctx, time.Now().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := seedAccount(t, s, 0)

	tx := &domain.Transaction{ID: uuid.New(), AccountID: id, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: 1, Metadata: map[string]string{"k": "v"}}
	require.NoError(t, s.Transactions().Create(ctx, tx))

	got, err := s.Transactions().GetByID(ctx, tx.ID)
	require.NoError(t, err)
	got.Metadata["k"] = "mutated"
	tx.Metadata["k"] = "mutated"

	again, err := s.Transactions().GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestEvents(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Events().Create(context.Background(), &domain.LedgerEvent{ID: uuid.New(), ToStatus: domain.StatusCompleted}))
	assert.Len(t, s.LedgerEvents(), 1)
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "memory", s.Name())
}

func TestIdempotency_CreateGetAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	acct := seedAccount(t, s, 0)

	_, err := s.Idempotency().Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	rec := &domain.IdempotencyRecord{
		Key: domain.BuildIdempotencyKey(acct, domain.OpTransfer, "k1"), AccountID: acct,
		Operation: domain.OpTransfer, Fingerprint: "fp", TransactionIDs: []uuid.UUID{uuid.New(), uuid.New()},
	}

	// A record written in a failed scope is discarded with it.
	err = s.Within(ctx, func(ctx context.Context, sc ports.Scope) error {
		require.NoError(t, sc.Idempotency().Create(ctx, rec))
		return errors.New("boom")
	})
	require.Error(t, err)
	_, err = s.Idempotency().Get(ctx, rec.Key)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, s.Idempotency().Create(ctx, rec))
	got, err := s.Idempotency().Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	got.TransactionIDs[0] = uuid.Nil
	again, err := s.Idempotency().Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.TransactionIDs, again.TransactionIDs)

	err = s.Idempotency().Create(ctx, rec)
	assert.ErrorIs(t, err, ports.ErrDuplicateIdempotencyKey)
}
