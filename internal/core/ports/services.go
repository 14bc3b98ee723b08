package ports

import (
	"context"
	"time"

	"social-wallet/internal/core/domain"

	"github.com/google/uuid"
)

// PaymentGateway is the narrow contract consumed from the external payment processor.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, identityRef string) (string, error)
	CreatePaymentIntent(ctx context.Context, amount int64, customerRef string, metadata map[string]string) (*domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentRef string) (*domain.PaymentIntent, error)
}

// GatewayEvent is a verified processor notification.
type GatewayEvent struct {
	ID     string
	Type   string
	Intent *domain.PaymentIntent // set for payment_intent.* events
}

// Processor event types acted upon.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentCanceled  = "payment_intent.canceled"
)

// WebhookVerifier authenticates and decodes processor notifications.
type WebhookVerifier interface {
	ParseEvent(payload []byte, signatureHeader string) (*GatewayEvent, error)
}

// DepositCache is the Redis-layer confirmation fast path. The storage constraint stays authoritative.
type DepositCache interface {
	Get(ctx context.Context, intentRef string) (*domain.ConfirmedDeposit, error) // nil, nil on miss
	Set(ctx context.Context, deposit *domain.ConfirmedDeposit) error
}

// IdempotencyCache is the Redis-layer replay fast path. The storage record stays authoritative.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) // nil, nil on miss
	Set(ctx context.Context, rec *domain.IdempotencyRecord) error
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// EventRecorder receives one call per transaction state transition.
// from is empty when tx was created directly in its current status.
type EventRecorder interface {
	Record(ctx context.Context, tx *domain.Transaction, from domain.TransactionStatus)
}

// DetailsCipher encrypts payout account details at rest.
type DetailsCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TokenService validates bearer tokens issued by the identity subsystem.
type TokenService interface {
	Generate(accountID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	AccountID uuid.UUID
}

// --- Service Ports (Business Logic) ---

// WalletService is the public operation surface of the ledger.
type WalletService interface {
	OpenAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.DepositInitiation, error)
	ConfirmDeposit(ctx context.Context, intentRef string, accountID uuid.UUID) (*domain.Transaction, error)
	Transfer(ctx context.Context, req TransferRequest) (*domain.TransferResult, error)
	PayOrder(ctx context.Context, req OrderPaymentRequest) (*domain.TransferResult, error)
	Withdraw(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error)
	ApplyFee(ctx context.Context, req FeeRequest) (*domain.Transaction, error)
	Refund(ctx context.Context, req RefundRequest) (*domain.Transaction, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error)
	GetHistory(ctx context.Context, req HistoryRequest) (*HistoryPage, error)
	GetTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error)
	CancelPending(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error)
	ReconcileAccount(ctx context.Context, accountID uuid.UUID) (*domain.LedgerAudit, error)
}

// TransferRequest holds validated input for a peer transfer.
type TransferRequest struct {
	From           uuid.UUID
	To             uuid.UUID
	Amount         int64
	Description    string
	IdempotencyKey string // optional client key, replays the first outcome
}

// OrderPaymentRequest holds validated input for paying a merchant order.
type OrderPaymentRequest struct {
	Customer       uuid.UUID
	Merchant       uuid.UUID
	Amount         int64
	OrderRef       string
	IdempotencyKey string
}

// WithdrawalRequest holds validated input for a payout.
type WithdrawalRequest struct {
	AccountID      uuid.UUID
	Amount         int64
	Method         domain.WithdrawalMethod
	Details        string // payout account details, stored encrypted
	IdempotencyKey string
}

// FeeRequest holds validated input for charging a service fee.
type FeeRequest struct {
	AccountID       uuid.UUID
	Amount          int64
	Reason          string
	RelatedOrderRef *string
	IdempotencyKey  string
}

// RefundRequest holds validated input for refunding an order to a customer.
type RefundRequest struct {
	AccountID       uuid.UUID
	Amount          int64
	RelatedOrderRef string
	IdempotencyKey  string
}

// HistoryRequest holds a history query.
type HistoryRequest struct {
	AccountID uuid.UUID
	Page      int
	PageSize  int
	Filter    domain.TransactionFilter
}

// HistoryPage is one page of transaction history, newest first.
type HistoryPage struct {
	Transactions []domain.Transaction
	Page         int
	PageSize     int
	Total        int64
}

// SweepService resolves stale pending deposits against the processor.
type SweepService interface {
	Sweep(ctx context.Context, olderThan time.Duration, batchSize int) (*SweepReport, error)
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned   int
	Completed int
	Failed    int
	Pending   int
	Errors    int
}
