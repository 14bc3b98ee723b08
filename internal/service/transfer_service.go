package service

import (
	"bytes"
	"context"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransferSpec parameterizes the two-leg transfer primitive.
type TransferSpec struct {
	From            uuid.UUID
	To              uuid.UUID
	Amount          int64 // positive
	Kind            domain.TransactionKind
	Description     string
	RelatedOrderRef *string
	Metadata        map[string]string
}

// TransferProtocol moves funds between two accounts as one all-or-nothing operation.
type TransferProtocol struct {
	store  ports.Store
	ledger *Ledger
	log    zerolog.Logger
}

// NewTransferProtocol creates a transfer protocol on top of ledger.
func NewTransferProtocol(store ports.Store, ledger *Ledger, log zerolog.Logger) *TransferProtocol {
	return &TransferProtocol{store: store, ledger: ledger, log: log}
}

// Transfer runs spec in its own atomic scope and returns both completed legs.
func (p *TransferProtocol) Transfer(ctx context.Context, spec TransferSpec) (*domain.TransferResult, error) {
	if err := validateTransfer(spec); err != nil {
		return nil, err
	}

	var (
		j   journal
		out *domain.TransferResult
	)
	err := p.store.Within(ctx, func(ctx context.Context, s ports.Scope) error {
		res, err := p.transferInScope(ctx, s, &j, spec)
		out = res
		return err
	})
	if err != nil {
		return nil, scopeError(err)
	}
	j.flush(ctx, p.ledger.events)

	p.log.Info().
		Str("kind", string(spec.Kind)).
		Str("from", spec.From.String()).
		Str("to", spec.To.String()).
		Int64("amount", spec.Amount).
		Str("debit_tx", out.Debit.ID.String()).
		Str("credit_tx", out.Credit.ID.String()).
		Msg("transfer completed")

	return out, nil
}

// transferInScope writes both legs inside an open scope. Accounts are locked in
// ascending id order so concurrent transfers over the same pair cannot deadlock.
func (p *TransferProtocol) transferInScope(ctx context.Context, s ports.Scope, j *journal, spec TransferSpec) (*domain.TransferResult, error) {
	if err := validateTransfer(spec); err != nil {
		return nil, err
	}

	first, second := spec.From, spec.To
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}
	locked := make(map[uuid.UUID]*domain.Account, 2)
	for _, id := range []uuid.UUID{first, second} {
		acct, err := lockAccount(ctx, s, id)
		if err != nil {
			return nil, err
		}
		locked[id] = acct
	}

	from, to := locked[spec.From], locked[spec.To]
	if !domain.SameCurrency(from.Currency, to.Currency) {
		return nil, apperror.ErrCurrencyMismatch(from.Currency, to.Currency)
	}
	if !from.CanDebit(spec.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	debitID, creditID := uuid.New(), uuid.New()
	debit, err := p.ledger.applyInScope(ctx, s, j, Mutation{
		ID:              debitID,
		AccountID:       spec.From,
		Kind:            spec.Kind,
		Amount:          -spec.Amount,
		Description:     spec.Description,
		CounterpartyRef: &creditID,
		RelatedOrderRef: spec.RelatedOrderRef,
		Metadata:        spec.Metadata,
	})
	if err != nil {
		return nil, err
	}
	credit, err := p.ledger.applyInScope(ctx, s, j, Mutation{
		ID:              creditID,
		AccountID:       spec.To,
		Kind:            spec.Kind,
		Amount:          spec.Amount,
		Description:     spec.Description,
		CounterpartyRef: &debitID,
		RelatedOrderRef: spec.RelatedOrderRef,
		Metadata:        spec.Metadata,
	})
	if err != nil {
		return nil, err
	}

	return &domain.TransferResult{Debit: debit, Credit: credit}, nil
}

func validateTransfer(spec TransferSpec) error {
	if spec.From == spec.To {
		return apperror.ErrSelfTransfer()
	}
	if spec.Amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if !spec.Kind.IsTwoLegged() {
		return apperror.Validation("kind " + string(spec.Kind) + " is not a transfer kind")
	}
	return nil
}
