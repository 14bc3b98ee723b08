package handler

import (
	"social-wallet/internal/adapter/http/dto"
	"social-wallet/internal/adapter/http/middleware"
	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"
	"social-wallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler serves the wallet facade to authenticated accounts.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// OpenAccount handles POST /api/v1/wallet/account.
func (h *WalletHandler) OpenAccount(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	acct, err := h.walletSvc.OpenAccount(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.AccountResponse{
		ID:        acct.ID.String(),
		Currency:  acct.Currency,
		CreatedAt: acct.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Deposit handles POST /api/v1/wallet/deposits.
func (h *WalletHandler) Deposit(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	started, err := h.walletSvc.Deposit(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.DepositResponse{
		TransactionID: started.TransactionID.String(),
		IntentRef:     started.IntentRef,
		ClientSecret:  started.ClientSecret,
	})
}

// ConfirmDeposit handles POST /api/v1/wallet/deposits/:intent_ref/confirm.
func (h *WalletHandler) ConfirmDeposit(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	tx, err := h.walletSvc.ConfirmDeposit(c.Request.Context(), c.Param("intent_ref"), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(tx))
}

// Transfer handles POST /api/v1/wallet/transfers.
func (h *WalletHandler) Transfer(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.walletSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		From:           accountID,
		To:             uuid.MustParse(req.ToAccountID),
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: middleware.IdempotencyKeyFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransferResponse(result))
}

// PayOrder handles POST /api/v1/wallet/orders/:order_ref/pay.
func (h *WalletHandler) PayOrder(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.OrderPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.walletSvc.PayOrder(c.Request.Context(), ports.OrderPaymentRequest{
		Customer:       accountID,
		Merchant:       uuid.MustParse(req.MerchantID),
		Amount:         req.Amount,
		OrderRef:       c.Param("order_ref"),
		IdempotencyKey: middleware.IdempotencyKeyFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransferResponse(result))
}

// Withdraw handles POST /api/v1/wallet/withdrawals.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	// Details are encrypted verbatim, so the body is not sanitized.
	var req dto.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	tx, err := h.walletSvc.Withdraw(c.Request.Context(), ports.WithdrawalRequest{
		AccountID:      accountID,
		Amount:         req.Amount,
		Method:         domain.WithdrawalMethod(req.Method),
		Details:        req.Details,
		IdempotencyKey: middleware.IdempotencyKeyFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(tx))
}

// ApplyFee handles POST /api/v1/wallet/fees. Internal callers only.
func (h *WalletHandler) ApplyFee(c *gin.Context) {
	var req dto.FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	tx, err := h.walletSvc.ApplyFee(c.Request.Context(), ports.FeeRequest{
		AccountID:       uuid.MustParse(req.AccountID),
		Amount:          req.Amount,
		Reason:          req.Reason,
		RelatedOrderRef: req.OrderRef,
		IdempotencyKey:  middleware.IdempotencyKeyFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(tx))
}

// Refund handles POST /api/v1/wallet/refunds. Internal callers only.
func (h *WalletHandler) Refund(c *gin.Context) {
	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	tx, err := h.walletSvc.Refund(c.Request.Context(), ports.RefundRequest{
		AccountID:       uuid.MustParse(req.AccountID),
		Amount:          req.Amount,
		RelatedOrderRef: req.OrderRef,
		IdempotencyKey:  middleware.IdempotencyKeyFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(tx))
}

// GetBalance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	balance, err := h.walletSvc.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		AccountID: balance.AccountID.String(),
		Amount:    balance.Amount,
		Display:   domain.FormatMinor(balance.Amount, balance.Currency),
		Currency:  balance.Currency,
	})
}

// GetHistory handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) GetHistory(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	req := ports.HistoryRequest{AccountID: accountID, Page: q.Page, PageSize: q.PageSize}
	if q.Kind != "" {
		kind := domain.TransactionKind(q.Kind)
		req.Filter.Kind = &kind
	}
	if q.Status != "" {
		status := domain.TransactionStatus(q.Status)
		req.Filter.Status = &status
	}

	page, err := h.walletSvc.GetHistory(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Page(c, toTransactionList(page.Transactions), page.Page, page.PageSize, page.Total)
}

// GetTransaction handles GET /api/v1/wallet/transactions/:id.
func (h *WalletHandler) GetTransaction(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transaction id must be a UUID"))
		return
	}

	tx, err := h.walletSvc.GetTransaction(c.Request.Context(), accountID, txID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(tx))
}

// CancelPending handles POST /api/v1/wallet/transactions/:id/cancel.
func (h *WalletHandler) CancelPending(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transaction id must be a UUID"))
		return
	}

	tx, err := h.walletSvc.CancelPending(c.Request.Context(), accountID, txID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(tx))
}

// Reconcile handles GET /api/v1/wallet/reconciliation.
func (h *WalletHandler) Reconcile(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	audit, err := h.walletSvc.ReconcileAccount(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ReconciliationResponse{
		AccountID:  audit.AccountID.String(),
		Balance:    audit.Balance,
		LedgerSum:  audit.LedgerSum,
		Consistent: audit.Consistent,
	})
}
