package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// TransactionKind is the closed set of money movements the ledger records.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindPayment    TransactionKind = "payment"
	KindRefund     TransactionKind = "refund"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
	KindFee        TransactionKind = "fee"
)

var transactionKinds = map[TransactionKind]struct{}{
	KindDeposit:    {},
	KindPayment:    {},
	KindRefund:     {},
	KindWithdrawal: {},
	KindTransfer:   {},
	KindFee:        {},
}

// ParseTransactionKind validates s against the closed set of kinds.
func ParseTransactionKind(s string) (TransactionKind, error) {
	k := TransactionKind(s)
	if _, ok := transactionKinds[k]; !ok {
		return "", fmt.Errorf("unknown transaction kind %q", s)
	}
	return k, nil
}

// IsTwoLegged reports whether the kind is produced by the transfer primitive.
func (k TransactionKind) IsTwoLegged() bool {
	switch k {
	case KindPayment, KindRefund, KindTransfer, KindFee:
		return true
	}
	return false
}

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// ParseTransactionStatus validates s against the closed set of statuses.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(s); st {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// IsTerminal returns true if the status admits no further transition.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a transaction may move from s to next.
// Only pending transactions move, and only once, to a terminal status.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	return s == StatusPending && next.IsTerminal()
}

// Transaction is an append-mostly ledger entry.
// Amount is signed in the account currency's minor units: positive credits, negative debits.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	AccountID       uuid.UUID         `json:"account_id"`
	Kind            TransactionKind   `json:"kind"`
	Status          TransactionStatus `json:"status"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	BalanceBefore   *int64            `json:"balance_before,omitempty"`
	BalanceAfter    *int64            `json:"balance_after,omitempty"` // set only on completion
	Description     string            `json:"description,omitempty"`
	ExternalRef     *string           `json:"external_ref,omitempty"`
	CounterpartyRef *uuid.UUID        `json:"counterparty_ref,omitempty"` // the other leg of a transfer
	RelatedOrderRef *string           `json:"related_order_ref,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	FailedAt        *time.Time        `json:"failed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
}

// IsCredit reports whether the transaction adds funds to its account.
func (t *Transaction) IsCredit() bool {
	return t.Amount > 0
}

// Complete marks a pending transaction completed with the post-mutation balance.
func (t *Transaction) Complete(before, after int64, at time.Time) error {
	if !t.Status.CanTransition(StatusCompleted) {
		return fmt.Errorf("transaction %s: %w", t.ID, &TransitionError{From: t.Status, To: StatusCompleted})
	}
	t.Status = StatusCompleted
	t.BalanceBefore = &before
	t.BalanceAfter = &after
	t.CompletedAt = &at
	return nil
}

// Close moves a pending transaction to failed or cancelled without touching balances.
func (t *Transaction) Close(to TransactionStatus, at time.Time) error {
	if to == StatusCompleted || !t.Status.CanTransition(to) {
		return fmt.Errorf("transaction %s: %w", t.ID, &TransitionError{From: t.Status, To: to})
	}
	t.Status = to
	switch to {
	case StatusFailed:
		t.FailedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	}
	return nil
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Metadata keys written on transactions.
const (
	MetaTransactionID    = "transaction_id"
	MetaAccountID        = "account_id"
	MetaWithdrawalMethod = "withdrawal_method"
	MetaPayoutDetails    = "payout_details" // encrypted, base64
	MetaRequestedAmount  = "requested_amount"
	MetaReason           = "reason"
)

// TransactionFilter narrows a history listing.
type TransactionFilter struct {
	Kind   *TransactionKind
	Status *TransactionStatus
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip. A page past the addressable range
// saturates at math.MaxInt.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}
