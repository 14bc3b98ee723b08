package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent records one transaction state transition.
// FromStatus is empty when the transaction was created in ToStatus.
type LedgerEvent struct {
	ID            uuid.UUID         `json:"id"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	AccountID     uuid.UUID         `json:"account_id"`
	Kind          TransactionKind   `json:"kind"`
	FromStatus    TransactionStatus `json:"from_status,omitempty"`
	ToStatus      TransactionStatus `json:"to_status"`
	Amount        int64             `json:"amount"`
	ExternalRef   *string           `json:"external_ref,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewLedgerEvent builds the event for tx having just entered its current status.
func NewLedgerEvent(tx *Transaction, from TransactionStatus, at time.Time) LedgerEvent {
	return LedgerEvent{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Kind:          tx.Kind,
		FromStatus:    from,
		ToStatus:      tx.Status,
		Amount:        tx.Amount,
		ExternalRef:   tx.ExternalRef,
		OccurredAt:    at,
	}
}

// PaymentIntent is the processor's view of a deposit charge.
type PaymentIntent struct {
	Ref          string            `json:"intent_ref"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Status       IntentStatus      `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IntentStatus mirrors the processor's payment intent lifecycle.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentCanceled              IntentStatus = "canceled"
	IntentSucceeded             IntentStatus = "succeeded"
)

// DepositInitiation is returned when a processor-backed deposit starts.
type DepositInitiation struct {
	IntentRef     string    `json:"intent_ref"`
	ClientSecret  string    `json:"client_secret"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Debit  *Transaction `json:"debit_tx"`
	Credit *Transaction `json:"credit_tx"`
}
