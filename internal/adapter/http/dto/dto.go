package dto

// DepositRequest is the request body for starting a processor-backed deposit.
type DepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// TransferRequest is the request body for a peer transfer.
type TransferRequest struct {
	ToAccountID string `json:"to_account_id" binding:"required,uuid"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description" binding:"max=255"`
}

// OrderPaymentRequest is the request body for paying a merchant order.
type OrderPaymentRequest struct {
	MerchantID string `json:"merchant_id" binding:"required,uuid"`
	Amount     int64  `json:"amount" binding:"required,gt=0"`
}

// WithdrawalRequest is the request body for a payout. Details are stored encrypted.
type WithdrawalRequest struct {
	Amount  int64  `json:"amount" binding:"required,gt=0"`
	Method  string `json:"method" binding:"required,withdrawal_method"`
	Details string `json:"details" binding:"max=512"`
}

// FeeRequest is the request body for charging a service fee.
type FeeRequest struct {
	AccountID string  `json:"account_id" binding:"required,uuid"`
	Amount    int64   `json:"amount" binding:"required,gt=0"`
	Reason    string  `json:"reason" binding:"required,max=255"`
	OrderRef  *string `json:"order_ref,omitempty" binding:"omitempty,safe_ref"`
}

// RefundRequest is the request body for refunding an order to a customer.
type RefundRequest struct {
	AccountID string `json:"account_id" binding:"required,uuid"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	OrderRef  string `json:"order_ref" binding:"required,safe_ref"`
}

// HistoryQuery holds the query string of a history listing.
type HistoryQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1,max=1000000"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1"`
	Kind     string `form:"kind" binding:"omitempty,oneof=deposit payment refund withdrawal transfer fee"`
	Status   string `form:"status" binding:"omitempty,oneof=pending completed failed cancelled"`
}

// AccountResponse is the response body for an opened account.
type AccountResponse struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Display   string `json:"display"`
	Currency  string `json:"currency"`
}

// DepositResponse is returned when a deposit has been initiated.
type DepositResponse struct {
	TransactionID string `json:"transaction_id"`
	IntentRef     string `json:"intent_ref"`
	ClientSecret  string `json:"client_secret"`
}

// TransactionResponse is the response body for a single ledger entry.
type TransactionResponse struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	Kind            string            `json:"kind"`
	Status          string            `json:"status"`
	Amount          int64             `json:"amount"`
	Display         string            `json:"display"`
	Currency        string            `json:"currency"`
	BalanceBefore   *int64            `json:"balance_before,omitempty"`
	BalanceAfter    *int64            `json:"balance_after,omitempty"`
	Description     string            `json:"description,omitempty"`
	ExternalRef     *string           `json:"external_ref,omitempty"`
	CounterpartyRef *string           `json:"counterparty_ref,omitempty"`
	RelatedOrderRef *string           `json:"related_order_ref,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       string            `json:"created_at"`
	CompletedAt     *string           `json:"completed_at,omitempty"`
	FailedAt        *string           `json:"failed_at,omitempty"`
	CancelledAt     *string           `json:"cancelled_at,omitempty"`
}

// TransferResponse carries both legs of a two-legged movement.
type TransferResponse struct {
	Debit  TransactionResponse `json:"debit_tx"`
	Credit TransactionResponse `json:"credit_tx"`
}

// ReconciliationResponse reports drift between the stored balance and the ledger.
type ReconciliationResponse struct {
	AccountID  string `json:"account_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Consistent bool   `json:"consistent"`
}
