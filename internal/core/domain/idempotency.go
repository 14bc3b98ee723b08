package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operations that accept an Idempotency-Key.
const (
	OpTransfer     = "transfer"
	OpOrderPayment = "order_payment"
	OpWithdrawal   = "withdrawal"
	OpFee          = "fee"
	OpRefund       = "refund"
)

// IdempotencyRecord remembers which transactions a keyed money operation produced.
type IdempotencyRecord struct {
	Key            string      `json:"key"` // Format: "account_id:operation:client_key"
	AccountID      uuid.UUID   `json:"account_id"`
	Operation      string      `json:"operation"`
	Fingerprint    string      `json:"fingerprint"` // hash of the request parameters
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
	CreatedAt      time.Time   `json:"created_at"`
}

// BuildIdempotencyKey constructs the storage key of a client idempotency key. Keys are
// scoped to the caller's account and the operation.
func BuildIdempotencyKey(accountID uuid.UUID, operation, clientKey string) string {
	return accountID.String() + ":" + operation + ":" + clientKey
}
