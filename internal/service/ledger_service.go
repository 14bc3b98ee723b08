package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mutation describes one balance change to be recorded as a completed transaction.
type Mutation struct {
	ID              uuid.UUID // generated when zero
	AccountID       uuid.UUID
	Kind            domain.TransactionKind
	Amount          int64 // signed: positive credits, negative debits
	Description     string
	ExternalRef     *string
	CounterpartyRef *uuid.UUID
	RelatedOrderRef *string
	Metadata        map[string]string
}

// Ledger is the only component that mutates account balances.
type Ledger struct {
	store  ports.Store
	events ports.EventRecorder
	now    func() time.Time
	log    zerolog.Logger
}

// NewLedger creates a ledger over store. events receives one record per state transition.
func NewLedger(store ports.Store, events ports.EventRecorder, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
}

// Apply records m and moves the balance in one atomic scope.
func (l *Ledger) Apply(ctx context.Context, m Mutation) (*domain.Transaction, error) {
	var (
		j   journal
		out *domain.Transaction
	)
	err := l.store.Within(ctx, func(ctx context.Context, s ports.Scope) error {
		tx, err := l.applyInScope(ctx, s, &j, m)
		out = tx
		return err
	})
	if err != nil {
		return nil, scopeError(err)
	}
	j.flush(ctx, l.events)
	return out, nil
}

// applyInScope creates a completed transaction for m inside an open scope.
func (l *Ledger) applyInScope(ctx context.Context, s ports.Scope, j *journal, m Mutation) (*domain.Transaction, error) {
	if _, err := domain.ParseTransactionKind(string(m.Kind)); err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if m.Amount == 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	acct, err := lockAccount(ctx, s, m.AccountID)
	if err != nil {
		return nil, err
	}
	if m.Amount < 0 && !acct.CanDebit(-m.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := l.now()
	tx := &domain.Transaction{
		ID:              id,
		AccountID:       acct.ID,
		Kind:            m.Kind,
		Status:          domain.StatusPending,
		Amount:          m.Amount,
		Currency:        acct.Currency,
		Description:     m.Description,
		ExternalRef:     m.ExternalRef,
		CounterpartyRef: m.CounterpartyRef,
		RelatedOrderRef: m.RelatedOrderRef,
		Metadata:        m.Metadata,
		CreatedAt:       now,
	}
	if err := tx.Complete(acct.Balance, acct.Balance+m.Amount, now); err != nil {
		return nil, apperror.InternalError(err)
	}

	if err := s.Accounts().UpdateBalance(ctx, acct.ID, *tx.BalanceAfter); err != nil {
		return nil, storageError("update balance", err)
	}
	if err := s.Transactions().Create(ctx, tx); err != nil {
		return nil, storageError("create transaction", err)
	}

	j.add(tx, "")
	return tx, nil
}

// createPending records a pending transaction without touching any balance.
func (l *Ledger) createPending(ctx context.Context, s ports.Scope, j *journal, tx *domain.Transaction) error {
	tx.Status = domain.StatusPending
	tx.CreatedAt = l.now()
	if err := s.Transactions().Create(ctx, tx); err != nil {
		return storageError("create pending transaction", err)
	}
	j.add(tx, "")
	return nil
}

// settleInScope completes a locked pending credit with the confirmed amount.
func (l *Ledger) settleInScope(ctx context.Context, s ports.Scope, j *journal, tx *domain.Transaction, amount int64, currency string) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if !tx.Status.CanTransition(domain.StatusCompleted) {
		return apperror.ErrInvalidTransition(string(tx.Status), string(domain.StatusCompleted))
	}

	acct, err := lockAccount(ctx, s, tx.AccountID)
	if err != nil {
		return err
	}
	if !domain.SameCurrency(acct.Currency, currency) {
		return apperror.ErrCurrencyMismatch(acct.Currency, currency)
	}

	tx.Amount = amount
	if err := tx.Complete(acct.Balance, acct.Balance+amount, l.now()); err != nil {
		return apperror.InternalError(err)
	}
	if err := s.Accounts().UpdateBalance(ctx, acct.ID, *tx.BalanceAfter); err != nil {
		return storageError("update balance", err)
	}
	if err := s.Transactions().Complete(ctx, tx); err != nil {
		return storageError("complete transaction", err)
	}

	j.add(tx, domain.StatusPending)
	return nil
}

// closeInScope moves a locked pending transaction to failed or cancelled.
func (l *Ledger) closeInScope(ctx context.Context, s ports.Scope, j *journal, tx *domain.Transaction, to domain.TransactionStatus) error {
	if err := tx.Close(to, l.now()); err != nil {
		var te *domain.TransitionError
		if errors.As(err, &te) {
			return apperror.ErrInvalidTransition(string(te.From), string(te.To))
		}
		return apperror.InternalError(err)
	}
	if err := s.Transactions().Close(ctx, tx); err != nil {
		return storageError("close transaction", err)
	}
	j.add(tx, domain.StatusPending)
	return nil
}

func lockAccount(ctx context.Context, s ports.Scope, id uuid.UUID) (*domain.Account, error) {
	acct, err := s.Accounts().GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, apperror.ErrNotFound("account")
		}
		return nil, storageError("lock account", err)
	}
	return acct, nil
}

// storageError converts an adapter error into the service error taxonomy.
func storageError(op string, err error) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ports.ErrDuplicateExternalRef):
		return apperror.ErrDuplicateExternalRef(err)
	case errors.Is(err, ports.ErrNotFound):
		return apperror.ErrNotFound("transaction")
	}
	return apperror.ErrDatabaseError(fmt.Errorf("%s: %w", op, err))
}

// scopeError converts an error returned from Store.Within, which may come from Begin or Commit.
func scopeError(err error) error {
	return storageError("unit of work", err)
}

type transition struct {
	tx   *domain.Transaction
	from domain.TransactionStatus
}

// journal collects transitions made inside a scope so they are recorded only after commit.
type journal struct {
	entries []transition
}

func (j *journal) add(tx *domain.Transaction, from domain.TransactionStatus) {
	j.entries = append(j.entries, transition{tx: tx, from: from})
}

func (j *journal) flush(ctx context.Context, rec ports.EventRecorder) {
	if rec == nil {
		return
	}
	for _, e := range j.entries {
		rec.Record(ctx, e.tx, e.from)
	}
	j.entries = nil
}
