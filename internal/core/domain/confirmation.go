package domain

import (
	"github.com/google/uuid"
)

// ConfirmedDeposit is the cached outcome of a completed deposit confirmation.
type ConfirmedDeposit struct {
	IntentRef     string    `json:"intent_ref"`
	AccountID     uuid.UUID `json:"account_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// BuildDepositKey constructs the cache key for a confirmed deposit.
func BuildDepositKey(intentRef string) string {
	return "deposit:" + intentRef
}
