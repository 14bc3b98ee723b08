package memory

import (
	"context"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/google/uuid"
)

// autoAccounts, autoTransactions and autoIdempotency run every call as its own unit of work,
// like statements issued on a pool outside a transaction.

type autoAccounts struct{ s *Store }

func (a autoAccounts) Create(ctx context.Context, account *domain.Account) error {
	return a.s.write(ctx, func(sc *scope) error { return sc.Accounts().Create(ctx, account) })
}

func (a autoAccounts) GetByID(ctx context.Context, id uuid.UUID) (out *domain.Account, err error) {
	err = a.s.read(func(sc *scope) error {
		out, err = sc.Accounts().GetByID(ctx, id)
		return err
	})
	return out, err
}

func (a autoAccounts) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return a.GetByID(ctx, id)
}

func (a autoAccounts) UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	return a.s.write(ctx, func(sc *scope) error { return sc.Accounts().UpdateBalance(ctx, id, balance) })
}

func (a autoAccounts) SetCustomerRef(ctx context.Context, id uuid.UUID, customerRef string) error {
	return a.s.write(ctx, func(sc *scope) error { return sc.Accounts().SetCustomerRef(ctx, id, customerRef) })
}

type autoTransactions struct{ s *Store }

func (t autoTransactions) Create(ctx context.Context, tx *domain.Transaction) error {
	return t.s.write(ctx, func(sc *scope) error { return sc.Transactions().Create(ctx, tx) })
}

func (t autoTransactions) GetByID(ctx context.Context, id uuid.UUID) (out *domain.Transaction, err error) {
	err = t.s.read(func(sc *scope) error {
		out, err = sc.Transactions().GetByID(ctx, id)
		return err
	})
	return out, err
}

func (t autoTransactions) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return t.GetByID(ctx, id)
}

func (t autoTransactions) GetByExternalRefForUpdate(ctx context.Context, ref string) (out *domain.Transaction, err error) {
	err = t.s.read(func(sc *scope) error {
		out, err = sc.Transactions().GetByExternalRefForUpdate(ctx, ref)
		return err
	})
	return out, err
}

func (t autoTransactions) FindCompletedByExternalRef(ctx context.Context, ref string) (out *domain.Transaction, err error) {
	err = t.s.read(func(sc *scope) error {
		out, err = sc.Transactions().FindCompletedByExternalRef(ctx, ref)
		return err
	})
	return out, err
}

func (t autoTransactions) SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	return t.s.write(ctx, func(sc *scope) error { return sc.Transactions().SetExternalRef(ctx, id, ref) })
}

func (t autoTransactions) Complete(ctx context.Context, tx *domain.Transaction) error {
	return t.s.write(ctx, func(sc *scope) error { return sc.Transactions().Complete(ctx, tx) })
}

func (t autoTransactions) Close(ctx context.Context, tx *domain.Transaction) error {
	return t.s.write(ctx, func(sc *scope) error { return sc.Transactions().Close(ctx, tx) })
}

func (t autoTransactions) ListByAccount(ctx context.Context, params ports.TransactionListParams) (out []domain.Transaction, total int64, err error) {
	err = t.s.read(func(sc *scope) error {
		out, total, err = sc.Transactions().ListByAccount(ctx, params)
		return err
	})
	return out, total, err
}

func (t autoTransactions) SumCompleted(ctx context.Context, accountID uuid.UUID) (sum int64, err error) {
	err = t.s.read(func(sc *scope) error {
		sum, err = sc.Transactions().SumCompleted(ctx, accountID)
		return err
	})
	return sum, err
}

func (t autoTransactions) FindOrderPayment(ctx context.Context, accountID uuid.UUID, orderRef string) (out *domain.Transaction, err error) {
	err = t.s.read(func(sc *scope) error {
		out, err = sc.Transactions().FindOrderPayment(ctx, accountID, orderRef)
		return err
	})
	return out, err
}

func (t autoTransactions) SumOrderRefunds(ctx context.Context, accountID uuid.UUID, orderRef string) (sum int64, err error) {
	err = t.s.read(func(sc *scope) error {
		sum, err = sc.Transactions().SumOrderRefunds(ctx, accountID, orderRef)
		return err
	})
	return sum, err
}

func (t autoTransactions) ListStalePending(ctx context.Context, cutoff time.Time, limit int) (out []domain.Transaction, err error) {
	err = t.s.read(func(sc *scope) error {
		out, err = sc.Transactions().ListStalePending(ctx, cutoff, limit)
		return err
	})
	return out, err
}

type autoIdempotency struct{ s *Store }

func (i autoIdempotency) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	return i.s.write(ctx, func(sc *scope) error { return sc.Idempotency().Create(ctx, rec) })
}

func (i autoIdempotency) Get(ctx context.Context, key string) (out *domain.IdempotencyRecord, err error) {
	err = i.s.read(func(sc *scope) error {
		out, err = sc.Idempotency().Get(ctx, key)
		return err
	})
	return out, err
}
