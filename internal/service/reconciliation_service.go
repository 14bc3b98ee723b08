package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler drives processor-backed deposits from initiation to an idempotent credit.
type Reconciler struct {
	store   ports.Store
	ledger  *Ledger
	gateway ports.PaymentGateway
	cache   ports.DepositCache // optional
	log     zerolog.Logger
}

// NewReconciler creates a reconciler. cache may be nil.
func NewReconciler(store ports.Store, ledger *Ledger, gateway ports.PaymentGateway, cache ports.DepositCache, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		ledger:  ledger,
		gateway: gateway,
		cache:   cache,
		log:     log,
	}
}

// Initiate creates a pending deposit and its payment intent.
// A gateway failure after the pending transaction is written leaves it pending.
func (r *Reconciler) Initiate(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.DepositInitiation, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	acct, customerRef, err := r.ensureCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var j journal
	tx := &domain.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      domain.KindDeposit,
		Amount:    amount,
		Currency:  acct.Currency,
		Metadata: map[string]string{
			domain.MetaRequestedAmount: strconv.FormatInt(amount, 10),
		},
	}
	err = r.store.Within(ctx, func(ctx context.Context, s ports.Scope) error {
		return r.ledger.createPending(ctx, s, &j, tx)
	})
	if err != nil {
		return nil, scopeError(err)
	}
	j.flush(ctx, r.ledger.events)

	intent, err := r.gateway.CreatePaymentIntent(ctx, amount, customerRef, map[string]string{
		domain.MetaTransactionID: tx.ID.String(),
		domain.MetaAccountID:     accountID.String(),
	})
	if err != nil {
		r.log.Error().Err(err).
			Str("tx_id", tx.ID.String()).
			Str("account_id", accountID.String()).
			Msg("payment intent creation failed, deposit left pending")
		return nil, gatewayError(err)
	}

	if err := r.linkIntent(ctx, tx.ID, intent.Ref); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("account_id", accountID.String()).
		Str("intent_ref", intent.Ref).
		Int64("amount", amount).
		Msg("deposit initiated")

	return &domain.DepositInitiation{
		IntentRef:     intent.Ref,
		ClientSecret:  intent.ClientSecret,
		TransactionID: tx.ID,
	}, nil
}

// linkIntent records the processor reference on the pending deposit. A deposit closed while
// the intent was being created keeps the reference for audit and is reported, since the
// processor may still collect the payment.
func (r *Reconciler) linkIntent(ctx context.Context, txID uuid.UUID, intentRef string) error {
	var status domain.TransactionStatus
	err := r.store.Within(ctx, func(ctx context.Context, s ports.Scope) error {
		cur, err := s.Transactions().GetForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		status = cur.Status
		return s.Transactions().SetExternalRef(ctx, txID, intentRef)
	})
	if err != nil {
		return storageError("store external ref", err)
	}
	if status != domain.StatusPending {
		r.log.Error().
			Str("tx_id", txID.String()).
			Str("intent_ref", intentRef).
			Str("status", string(status)).
			Msg("deposit closed before its processor payment was linked, intent must be voided")
		return apperror.ErrInvalidTransition(string(status), string(domain.StatusPending))
	}
	return nil
}

// ensureCustomer returns the account and its processor customer, creating the customer on first use.
func (r *Reconciler) ensureCustomer(ctx context.Context, accountID uuid.UUID) (*domain.Account, string, error) {
	acct, err := getAccount(ctx, r.store, accountID)
	if err != nil {
		return nil, "", err
	}
	if acct.HasCustomer() {
		return acct, *acct.ExternalCustomerRef, nil
	}

	ref, err := r.gateway.CreateCustomer(ctx, accountID.String())
	if err != nil {
		return nil, "", gatewayError(err)
	}
	if err := r.store.Accounts().SetCustomerRef(ctx, accountID, ref); err != nil {
		return nil, "", storageError("store customer ref", err)
	}

	// SetCustomerRef keeps an existing link, so a concurrent initiation may have won.
	acct, err = getAccount(ctx, r.store, accountID)
	if err != nil {
		return nil, "", err
	}
	if acct.HasCustomer() {
		return acct, *acct.ExternalCustomerRef, nil
	}
	return acct, ref, nil
}

// Confirm credits the deposit behind intentRef once the processor reports it succeeded.
// Repeated calls for an already credited intent return the existing transaction unchanged.
func (r *Reconciler) Confirm(ctx context.Context, intentRef string, accountID uuid.UUID) (*domain.Transaction, error) {
	if tx := r.cached(ctx, intentRef, accountID); tx != nil {
		return tx, nil
	}

	intent, err := r.gateway.GetPaymentIntent(ctx, intentRef)
	if err != nil {
		return nil, gatewayError(err)
	}
	if intent.Status != domain.IntentSucceeded {
		return nil, apperror.ErrPaymentNotReady(string(intent.Status))
	}

	var (
		j   journal
		out *domain.Transaction
	)
	err = r.store.Within(ctx, func(ctx context.Context, s ports.Scope) error {
		tx, err := s.Transactions().GetByExternalRefForUpdate(ctx, intentRef)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return apperror.ErrNotFound("deposit")
			}
			return storageError("lock deposit", err)
		}
		if tx.AccountID != accountID {
			return apperror.ErrNotFound("deposit")
		}
		out = tx
		if tx.Status == domain.StatusCompleted {
			return nil
		}
		return r.completeDeposit(ctx, s, &j, tx, intent)
	})
	if errors.Is(err, ports.ErrDuplicateExternalRef) {
		// Another scope completed this reference between our read and write.
		j.entries = nil
		out, err = r.completedByRef(ctx, intentRef, accountID)
	}
	if err != nil {
		return nil, scopeError(err)
	}

	credited := len(j.entries) > 0
	j.flush(ctx, r.ledger.events)
	r.remember(ctx, out)

	if credited {
		r.log.Info().
			Str("tx_id", out.ID.String()).
			Str("account_id", accountID.String()).
			Str("intent_ref", intentRef).
			Int64("amount", out.Amount).
			Msg("deposit confirmed")
	}
	return out, nil
}

// completeDeposit settles a locked pending deposit against a succeeded intent.
func (r *Reconciler) completeDeposit(ctx context.Context, s ports.Scope, j *journal, tx *domain.Transaction, intent *domain.PaymentIntent) error {
	if tx.Kind != domain.KindDeposit {
		return apperror.ErrNotFound("deposit")
	}
	if id, ok := intent.Metadata[domain.MetaTransactionID]; ok && id != tx.ID.String() {
		return apperror.Validation("payment intent is correlated with a different transaction")
	}
	if tx.Amount != intent.Amount {
		r.log.Warn().
			Str("tx_id", tx.ID.String()).
			Int64("requested", tx.Amount).
			Int64("confirmed", intent.Amount).
			Msg("confirmed amount differs from requested amount")
	}
	return r.ledger.settleInScope(ctx, s, j, tx, intent.Amount, intent.Currency)
}

func (r *Reconciler) completedByRef(ctx context.Context, intentRef string, accountID uuid.UUID) (*domain.Transaction, error) {
	tx, err := r.store.Transactions().FindCompletedByExternalRef(ctx, intentRef)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, apperror.ErrDuplicateExternalRef(err)
		}
		return nil, storageError("find completed deposit", err)
	}
	if tx.AccountID != accountID {
		return nil, apperror.ErrNotFound("deposit")
	}
	return tx, nil
}

// cached returns the completed deposit from the fast path, or nil to fall through.
func (r *Reconciler) cached(ctx context.Context, intentRef string, accountID uuid.UUID) *domain.Transaction {
	if r.cache == nil {
		return nil
	}
	hit, err := r.cache.Get(ctx, intentRef)
	if err != nil {
		r.log.Warn().Err(err).Str("intent_ref", intentRef).Msg("deposit cache lookup failed, falling through to storage")
		return nil
	}
	if hit == nil || hit.AccountID != accountID {
		return nil
	}
	tx, err := r.store.Transactions().GetByID(ctx, hit.TransactionID)
	if err != nil || tx.Status != domain.StatusCompleted {
		return nil
	}
	return tx
}

func (r *Reconciler) remember(ctx context.Context, tx *domain.Transaction) {
	if r.cache == nil || tx.ExternalRef == nil {
		return
	}
	err := r.cache.Set(ctx, &domain.ConfirmedDeposit{
		IntentRef:     *tx.ExternalRef,
		AccountID:     tx.AccountID,
		TransactionID: tx.ID,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("intent_ref", *tx.ExternalRef).Msg("failed to cache confirmed deposit")
	}
}

// Sweep resolves pending deposits older than olderThan: succeeded intents are credited,
// canceled intents fail the deposit, anything else stays pending.
func (r *Reconciler) Sweep(ctx context.Context, olderThan time.Duration, batchSize int) (*ports.SweepReport, error) {
	if batchSize <= 0 {
		return nil, apperror.Validation("batch size must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	stale, err := r.store.Transactions().ListStalePending(ctx, cutoff, batchSize)
	if err != nil {
		return nil, storageError("list stale deposits", err)
	}

	report := &ports.SweepReport{Scanned: len(stale)}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := r.sweepOne(ctx, &stale[i])
		if err != nil {
			report.Errors++
			r.log.Warn().Err(err).Str("tx_id", stale[i].ID.String()).Msg("sweep could not resolve deposit")
			continue
		}
		switch outcome {
		case domain.StatusCompleted:
			report.Completed++
		case domain.StatusFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}

	r.log.Info().
		Int("scanned", report.Scanned).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Int("pending", report.Pending).
		Int("errors", report.Errors).
		Msg("reconciliation sweep finished")

	return report, nil
}

// sweepOne returns the status the deposit ended in.
func (r *Reconciler) sweepOne(ctx context.Context, stale *domain.Transaction) (domain.TransactionStatus, error) {
	if stale.ExternalRef == nil {
		return domain.StatusPending, nil
	}

	intent, err := r.gateway.GetPaymentIntent(ctx, *stale.ExternalRef)
	if err != nil {
		return "", gatewayError(err)
	}
	if intent.Status != domain.IntentSucceeded && intent.Status != domain.IntentCanceled {
		return domain.StatusPending, nil
	}

	var (
		j      journal
		status domain.TransactionStatus
	)
	err = r.store.Within(ctx, func(ctx context.Context, s ports.Scope) error {
		tx, err := s.Transactions().GetForUpdate(ctx, stale.ID)
		if err != nil {
			return storageError("lock deposit", err)
		}
		status = tx.Status
		if tx.Status != domain.StatusPending {
			return nil
		}
		if intent.Status == domain.IntentSucceeded {
			if err := r.completeDeposit(ctx, s, &j, tx, intent); err != nil {
				return err
			}
		} else if err := r.ledger.closeInScope(ctx, s, &j, tx, domain.StatusFailed); err != nil {
			return err
		}
		status = tx.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	j.flush(ctx, r.ledger.events)
	return status, nil
}

func getAccount(ctx context.Context, store ports.Store, id uuid.UUID) (*domain.Account, error) {
	acct, err := store.Accounts().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, apperror.ErrNotFound("account")
		}
		return nil, storageError("get account", err)
	}
	return acct, nil
}

func gatewayError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.ErrGateway(fmt.Errorf("payment gateway: %w", err))
}
