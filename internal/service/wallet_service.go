package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultPageSize = 20

// WalletPolicy carries configured ledger limits.
type WalletPolicy struct {
	Currency          string
	MinWithdrawal     int64
	MaxWithdrawal     int64
	WithdrawalMethods []domain.WithdrawalMethod
	PlatformAccountID uuid.UUID
	MaxPageSize       int
}

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	store      ports.Store
	ledger     *Ledger
	transfers  *TransferProtocol
	reconciler *Reconciler
	guard      *IdempotencyGuard
	cipher     ports.DetailsCipher
	policy     WalletPolicy
	methods    map[domain.WithdrawalMethod]struct{}
	log        zerolog.Logger
}

// NewWalletService creates the wallet facade.
func NewWalletService(
	store ports.Store,
	ledger *Ledger,
	transfers *TransferProtocol,
	reconciler *Reconciler,
	guard *IdempotencyGuard,
	cipher ports.DetailsCipher,
	policy WalletPolicy,
	log zerolog.Logger,
) *WalletServiceImpl {
	methods := make(map[domain.WithdrawalMethod]struct{}, len(policy.WithdrawalMethods))
	for _, m := range policy.WithdrawalMethods {
		methods[m] = struct{}{}
	}
	if policy.MaxPageSize <= 0 {
		policy.MaxPageSize = 100
	}
	return &WalletServiceImpl{
		store:      store,
		ledger:     ledger,
		transfers:  transfers,
		reconciler: reconciler,
		guard:      guard,
		cipher:     cipher,
		policy:     policy,
		methods:    methods,
		log:        log,
	}
}

// OpenAccount creates the wallet account for an identity if it does not exist yet.
func (s *WalletServiceImpl) OpenAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if acct, err := s.store.Accounts().GetByID(ctx, accountID); err == nil {
		return acct, nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return nil, storageError("get account", err)
	}

	now := time.Now().UTC()
	acct := &domain.Account{
		ID:        accountID,
		Currency:  s.policy.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Accounts().Create(ctx, acct); err != nil {
		return nil, storageError("create account", err)
	}
	return getAccount(ctx, s.store, accountID)
}

// Deposit starts a processor-backed deposit.
func (s *WalletServiceImpl) Deposit(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.DepositInitiation, error) {
	return s.reconciler.Initiate(ctx, accountID, amount)
}

// ConfirmDeposit credits a succeeded deposit. It is safe to call any number of times.
func (s *WalletServiceImpl) ConfirmDeposit(ctx context.Context, intentRef string, accountID uuid.UUID) (*domain.Transaction, error) {
	if intentRef == "" {
		return nil, apperror.Validation("intent_ref is required")
	}
	return s.reconciler.Confirm(ctx, intentRef, accountID)
}

// Transfer moves funds between two user accounts.
func (s *WalletServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.TransferResult, error) {
	return s.keyedTransfer(ctx, req.IdempotencyKey, domain.OpTransfer,
		[]string{req.To.String(), amountParam(req.Amount), req.Description},
		TransferSpec{
			From:        req.From,
			To:          req.To,
			Amount:      req.Amount,
			Kind:        domain.KindTransfer,
			Description: req.Description,
		})
}

// PayOrder moves funds from a customer to the merchant of an order.
func (s *WalletServiceImpl) PayOrder(ctx context.Context, req ports.OrderPaymentRequest) (*domain.TransferResult, error) {
	if req.OrderRef == "" {
		return nil, apperror.Validation("order_ref is required")
	}
	orderRef := req.OrderRef
	return s.keyedTransfer(ctx, req.IdempotencyKey, domain.OpOrderPayment,
		[]string{req.Merchant.String(), amountParam(req.Amount), orderRef},
		TransferSpec{
			From:            req.Customer,
			To:              req.Merchant,
			Amount:          req.Amount,
			Kind:            domain.KindPayment,
			Description:     "payment for order " + orderRef,
			RelatedOrderRef: &orderRef,
		})
}

// Withdraw records a completed payout debit. Payout execution happens downstream.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawalRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Amount < s.policy.MinWithdrawal || req.Amount > s.policy.MaxWithdrawal {
		return nil, apperror.ErrAmountOutOfBounds(s.policy.MinWithdrawal, s.policy.MaxWithdrawal)
	}
	if _, ok := s.methods[req.Method]; !ok {
		return nil, apperror.ErrUnsupportedMethod(string(req.Method))
	}

	meta := map[string]string{domain.MetaWithdrawalMethod: string(req.Method)}
	if req.Details != "" {
		enc, err := s.cipher.Encrypt(req.Details)
		if err != nil {
			return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt payout details: %w", err))
		}
		meta[domain.MetaPayoutDetails] = enc
	}

	// Payout details stay out of the fingerprint so the record holds nothing derived from them.
	call := keyedCall{
		clientKey: req.IdempotencyKey,
		accountID: req.AccountID,
		operation: domain.OpWithdrawal,
		params:    []string{amountParam(req.Amount), string(req.Method)},
	}
	txns, replayed, err := s.guard.Run(ctx, call, func(ctx context.Context, sc ports.Scope, j *journal) ([]*domain.Transaction, error) {
		tx, err := s.ledger.applyInScope(ctx, sc, j, Mutation{
			AccountID:   req.AccountID,
			Kind:        domain.KindWithdrawal,
			Amount:      -req.Amount,
			Description: "withdrawal via " + string(req.Method),
			Metadata:    meta,
		})
		if err != nil {
			return nil, err
		}
		return []*domain.Transaction{tx}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(txns) != 1 {
		return nil, apperror.InternalError(fmt.Errorf("withdrawal produced %d transactions", len(txns)))
	}
	tx := txns[0]

	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("account_id", req.AccountID.String()).
		Str("method", string(req.Method)).
		Int64("amount", req.Amount).
		Bool("replayed", replayed).
		Msg("withdrawal recorded")

	return tx, nil
}

// ApplyFee charges a service fee to the platform account and returns the debit leg.
func (s *WalletServiceImpl) ApplyFee(ctx context.Context, req ports.FeeRequest) (*domain.Transaction, error) {
	desc := "service fee"
	if req.Reason != "" {
		desc = req.Reason
	}
	var related string
	if req.RelatedOrderRef != nil {
		related = *req.RelatedOrderRef
	}
	res, err := s.keyedTransfer(ctx, req.IdempotencyKey, domain.OpFee,
		[]string{amountParam(req.Amount), req.Reason, related},
		TransferSpec{
			From:            req.AccountID,
			To:              s.policy.PlatformAccountID,
			Amount:          req.Amount,
			Kind:            domain.KindFee,
			Description:     desc,
			RelatedOrderRef: req.RelatedOrderRef,
			Metadata:        map[string]string{domain.MetaReason: req.Reason},
		})
	if err != nil {
		return nil, err
	}
	return res.Debit, nil
}

// Refund credits a customer for an order and returns the credit leg. Funds come from the
// merchant that was paid through the wallet, or from the platform account otherwise.
// Cumulative refunds for an order never exceed what was paid.
func (s *WalletServiceImpl) Refund(ctx context.Context, req ports.RefundRequest) (*domain.Transaction, error) {
	if req.RelatedOrderRef == "" {
		return nil, apperror.Validation("related_order_ref is required")
	}
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	orderRef := req.RelatedOrderRef
	call := keyedCall{
		clientKey: req.IdempotencyKey,
		accountID: req.AccountID,
		operation: domain.OpRefund,
		params:    []string{amountParam(req.Amount), orderRef},
	}
	txns, replayed, err := s.guard.Run(ctx, call, func(ctx context.Context, sc ports.Scope, j *journal) ([]*domain.Transaction, error) {
		source, err := s.refundSource(ctx, sc, req.AccountID, orderRef, req.Amount)
		if err != nil {
			return nil, err
		}
		res, err := s.transfers.transferInScope(ctx, sc, j, TransferSpec{
			From:            source,
			To:              req.AccountID,
			Amount:          req.Amount,
			Kind:            domain.KindRefund,
			Description:     "refund for order " + orderRef,
			RelatedOrderRef: &orderRef,
		})
		if err != nil {
			return nil, err
		}
		return []*domain.Transaction{res.Debit, res.Credit}, nil
	})
	if err != nil {
		return nil, err
	}
	res, err := transferResult(txns)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tx_id", res.Credit.ID.String()).
		Str("account_id", req.AccountID.String()).
		Str("order_ref", orderRef).
		Int64("amount", req.Amount).
		Bool("replayed", replayed).
		Msg("refund completed")

	return res.Credit, nil
}

// keyedTransfer runs a two-leg transfer under the caller's idempotency key.
func (s *WalletServiceImpl) keyedTransfer(ctx context.Context, clientKey, operation string, params []string, spec TransferSpec) (*domain.TransferResult, error) {
	if err := validateTransfer(spec); err != nil {
		return nil, err
	}
	call := keyedCall{clientKey: clientKey, accountID: spec.From, operation: operation, params: params}
	txns, replayed, err := s.guard.Run(ctx, call, func(ctx context.Context, sc ports.Scope, j *journal) ([]*domain.Transaction, error) {
		res, err := s.transfers.transferInScope(ctx, sc, j, spec)
		if err != nil {
			return nil, err
		}
		return []*domain.Transaction{res.Debit, res.Credit}, nil
	})
	if err != nil {
		return nil, err
	}
	res, err := transferResult(txns)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("kind", string(spec.Kind)).
		Str("from", spec.From.String()).
		Str("to", spec.To.String()).
		Int64("amount", spec.Amount).
		Str("debit_tx", res.Debit.ID.String()).
		Str("credit_tx", res.Credit.ID.String()).
		Bool("replayed", replayed).
		Msg("transfer completed")

	return res, nil
}

// transferResult rebuilds the two legs recorded for a transfer, debit first.
func transferResult(txns []*domain.Transaction) (*domain.TransferResult, error) {
	if len(txns) != 2 {
		return nil, apperror.InternalError(fmt.Errorf("transfer produced %d transactions", len(txns)))
	}
	return &domain.TransferResult{Debit: txns[0], Credit: txns[1]}, nil
}

func amountParam(amount int64) string {
	return strconv.FormatInt(amount, 10)
}

// refundSource picks the account that funds a refund and enforces the paid-amount cap.
// The payment leg is locked so concurrent refunds of one order are serialized.
func (s *WalletServiceImpl) refundSource(ctx context.Context, sc ports.Scope, customer uuid.UUID, orderRef string, amount int64) (uuid.UUID, error) {
	payment, err := sc.Transactions().FindOrderPayment(ctx, customer, orderRef)
	if errors.Is(err, ports.ErrNotFound) {
		return s.policy.PlatformAccountID, nil
	}
	if err != nil {
		return uuid.Nil, storageError("find order payment", err)
	}
	if _, err := sc.Transactions().GetForUpdate(ctx, payment.ID); err != nil {
		return uuid.Nil, storageError("lock order payment", err)
	}
	if payment.CounterpartyRef == nil {
		return uuid.Nil, apperror.InternalError(fmt.Errorf("payment %s has no counterparty leg", payment.ID))
	}
	credit, err := sc.Transactions().GetByID(ctx, *payment.CounterpartyRef)
	if err != nil {
		return uuid.Nil, storageError("get payment credit leg", err)
	}

	refunded, err := sc.Transactions().SumOrderRefunds(ctx, customer, orderRef)
	if err != nil {
		return uuid.Nil, storageError("sum order refunds", err)
	}
	if paid := -payment.Amount; refunded+amount > paid {
		return uuid.Nil, apperror.Validation(fmt.Sprintf("refund exceeds paid amount: paid %d, already refunded %d", paid, refunded))
	}
	return credit.AccountID, nil
}

// GetBalance returns the current balance, read fresh from storage.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	acct, err := getAccount(ctx, s.store, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{AccountID: acct.ID, Amount: acct.Balance, Currency: acct.Currency}, nil
}

// GetHistory returns one page of the account's transactions, newest first.
func (s *WalletServiceImpl) GetHistory(ctx context.Context, req ports.HistoryRequest) (*ports.HistoryPage, error) {
	page, size := req.Page, req.PageSize
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = defaultPageSize
	}
	if page < 1 || size < 1 {
		return nil, apperror.Validation("page and page_size must be positive")
	}
	if size > s.policy.MaxPageSize {
		size = s.policy.MaxPageSize
	}
	if page-1 > math.MaxInt/size {
		return nil, apperror.Validation("page is out of range")
	}

	if _, err := getAccount(ctx, s.store, req.AccountID); err != nil {
		return nil, err
	}

	items, total, err := s.store.Transactions().ListByAccount(ctx, ports.TransactionListParams{
		AccountID: req.AccountID,
		Filter:    req.Filter,
		Page:      domain.Page{Number: page, Size: size},
	})
	if err != nil {
		return nil, storageError("list transactions", err)
	}
	if items == nil {
		items = []domain.Transaction{}
	}

	return &ports.HistoryPage{Transactions: items, Page: page, PageSize: size, Total: total}, nil
}

// GetTransaction returns one transaction owned by accountID.
func (s *WalletServiceImpl) GetTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.store.Transactions().GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, apperror.ErrNotFound("transaction")
		}
		return nil, storageError("get transaction", err)
	}
	if tx.AccountID != accountID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return tx, nil
}

// CancelPending moves a pending transaction to cancelled. Balances are untouched because
// pending transactions never moved them. A deposit already linked to a processor payment
// is refused: its outcome belongs to confirmation and the sweep.
func (s *WalletServiceImpl) CancelPending(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error) {
	var (
		j   journal
		out *domain.Transaction
	)
	err := s.store.Within(ctx, func(ctx context.Context, sc ports.Scope) error {
		tx, err := sc.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return apperror.ErrNotFound("transaction")
			}
			return storageError("lock transaction", err)
		}
		if tx.AccountID != accountID {
			return apperror.ErrNotFound("transaction")
		}
		if tx.Kind == domain.KindDeposit && tx.ExternalRef != nil && tx.Status == domain.StatusPending {
			return apperror.ErrDepositAwaitingProcessor()
		}
		if err := s.ledger.closeInScope(ctx, sc, &j, tx, domain.StatusCancelled); err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err != nil {
		return nil, scopeError(err)
	}
	j.flush(ctx, s.ledger.events)
	return out, nil
}

// ReconcileAccount compares the stored balance with the sum of completed transactions.
func (s *WalletServiceImpl) ReconcileAccount(ctx context.Context, accountID uuid.UUID) (*domain.LedgerAudit, error) {
	acct, err := getAccount(ctx, s.store, accountID)
	if err != nil {
		return nil, err
	}
	sum, err := s.store.Transactions().SumCompleted(ctx, accountID)
	if err != nil {
		return nil, storageError("sum completed", err)
	}

	audit := &domain.LedgerAudit{
		AccountID:  accountID,
		Balance:    acct.Balance,
		LedgerSum:  sum,
		Consistent: acct.Balance == sum,
	}
	if !audit.Consistent {
		s.log.Error().
			Str("account_id", accountID.String()).
			Int64("balance", acct.Balance).
			Int64("ledger_sum", sum).
			Msg("ledger drift detected")
	}
	return audit, nil
}
