package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Retryable  bool   `json:"retryable,omitempty"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on error code so errors.Is works against the constructors below.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the error code of err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// ---- Wallet (WAL) ----

func ErrInsufficientFunds() *AppError {
	return New("WAL_001", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("WAL_002", "Invalid amount", http.StatusBadRequest)
}

// ErrAmountOutOfBounds is an InvalidAmount carrying the configured bounds.
func ErrAmountOutOfBounds(min, max int64) *AppError {
	return New("WAL_002", fmt.Sprintf("Amount must be between %d and %d", min, max), http.StatusBadRequest)
}

func ErrSelfTransfer() *AppError {
	return New("WAL_003", "Cannot transfer to the same account", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("WAL_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrUnsupportedMethod(method string) *AppError {
	return New("WAL_005", fmt.Sprintf("Unsupported withdrawal method: %s", method), http.StatusBadRequest)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("WAL_006", fmt.Sprintf("Transaction cannot move from %s to %s", from, to), http.StatusConflict)
}

func ErrDepositAwaitingProcessor() *AppError {
	return New("WAL_006", "Deposit is linked to a processor payment and settles through confirmation", http.StatusConflict)
}

func ErrCurrencyMismatch(expected, got string) *AppError {
	return New("WAL_007", fmt.Sprintf("Currency mismatch: expected %s, got %s", expected, got), http.StatusUnprocessableEntity)
}

func ErrIdempotencyKeyReused() *AppError {
	return New("WAL_008", "Idempotency-Key was already used with different parameters", http.StatusUnprocessableEntity)
}

// ---- Reconciliation (REC) ----

func ErrPaymentNotReady(status string) *AppError {
	e := New("REC_001", fmt.Sprintf("Payment not completed yet (status: %s)", status), http.StatusConflict)
	e.Retryable = true
	return e
}

func ErrDuplicateExternalRef(err error) *AppError {
	return Wrap("REC_002", "External payment reference already credited", http.StatusConflict, err)
}

// ---- Payment gateway (GW) ----

func ErrGateway(err error) *AppError {
	e := Wrap("GW_001", "Payment provider unavailable", http.StatusBadGateway, err)
	e.Retryable = true
	return e
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_002", "Operation not permitted for this account", http.StatusForbidden)
}

func ErrInvalidSignature() *AppError {
	return New("AUTH_003", "Invalid webhook signature", http.StatusBadRequest)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	e := Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
	e.Retryable = true
	return e
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a WAL_002-style validation error.
func Validation(message string) *AppError {
	return New("WAL_002", message, http.StatusBadRequest)
}
