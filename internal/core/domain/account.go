package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account carries one user's wallet balance. The id is owned by the identity subsystem.
type Account struct {
	ID                  uuid.UUID `json:"id"`
	Balance             int64     `json:"balance"` // minor units, never negative once committed
	Currency            string    `json:"currency"`
	ExternalCustomerRef *string   `json:"external_customer_ref,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CanDebit reports whether amount (positive) can be taken without going negative.
func (a *Account) CanDebit(amount int64) bool {
	return a.Balance-amount >= 0
}

// HasCustomer reports whether the account is linked to a processor customer.
func (a *Account) HasCustomer() bool {
	return a.ExternalCustomerRef != nil && *a.ExternalCustomerRef != ""
}

// Balance is the facade view of an account balance.
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
}

// LedgerAudit compares the stored balance with the sum of completed transactions.
type LedgerAudit struct {
	AccountID  uuid.UUID `json:"account_id"`
	Balance    int64     `json:"balance"`
	LedgerSum  int64     `json:"ledger_sum"`
	Consistent bool      `json:"consistent"`
}

// WithdrawalMethod is a supported payout rail.
type WithdrawalMethod string

const (
	WithdrawalBankTransfer WithdrawalMethod = "bank_transfer"
	WithdrawalPayPal       WithdrawalMethod = "paypal"
	WithdrawalCard         WithdrawalMethod = "card"
)
