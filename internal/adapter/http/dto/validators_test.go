package dto

import (
	"strings"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := TransferRequest{
		ToAccountID: "  8d6f0f5e-77a4-4b8f-9a57-1c0b3f7c2a11  ",
		Description: " dinner split ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "8d6f0f5e-77a4-4b8f-9a57-1c0b3f7c2a11", req.ToAccountID)
	assert.Equal(t, "dinner split", req.Description)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := FeeRequest{Reason: "listing <script>alert('x')</script> fee"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	ref := "  order-42  "
	req := FeeRequest{Reason: "fee", OrderRef: &ref}
	SanitizeStruct(&req)

	assert.Equal(t, "order-42", *req.OrderRef)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := FeeRequest{Reason: "fee"}
	SanitizeStruct(&req)
	assert.Nil(t, req.OrderRef)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeRef_Valid(t *testing.T) {
	cases := []string{
		"order-001",
		"ORD_002",
		"a.b.c",
		"shop:123",
		strings.Repeat("x", 128),
	}
	for _, tc := range cases {
		assert.True(t, safeRefRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeRef_Invalid(t *testing.T) {
	cases := []string{
		"ref 001",  // space
		"ref<001>", // angle brackets
		"ref;DROP", // semicolon
		"",         // empty
		"ref\n001", // newline
		strings.Repeat("x", 129),
	}
	for _, tc := range cases {
		assert.False(t, safeRefRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestWithdrawalMethod_Shape(t *testing.T) {
	assert.True(t, methodRe.MatchString("bank_transfer"))
	assert.True(t, methodRe.MatchString("paypal"))
	assert.True(t, methodRe.MatchString("crypto"), "unknown rails pass binding and are rejected by policy")
	assert.False(t, methodRe.MatchString("Bank Transfer"))
	assert.False(t, methodRe.MatchString("x"))
	assert.False(t, methodRe.MatchString("_paypal"))
}

func TestBinding_RegisteredValidators(t *testing.T) {
	acct := "8d6f0f5e-77a4-4b8f-9a57-1c0b3f7c2a11"

	assert.NoError(t, binding.Validator.ValidateStruct(&RefundRequest{AccountID: acct, Amount: 10, OrderRef: "order-1"}))
	assert.Error(t, binding.Validator.ValidateStruct(&RefundRequest{AccountID: acct, Amount: 10, OrderRef: "order 1"}))
	assert.Error(t, binding.Validator.ValidateStruct(&RefundRequest{AccountID: "not-a-uuid", Amount: 10, OrderRef: "order-1"}))

	assert.NoError(t, binding.Validator.ValidateStruct(&WithdrawalRequest{Amount: 10, Method: "paypal"}))
	assert.Error(t, binding.Validator.ValidateStruct(&WithdrawalRequest{Amount: 10, Method: "Pay Pal"}))
	assert.Error(t, binding.Validator.ValidateStruct(&WithdrawalRequest{Amount: 0, Method: "paypal"}))

	bad := "bad ref"
	assert.Error(t, binding.Validator.ValidateStruct(&FeeRequest{AccountID: acct, Amount: 1, Reason: "r", OrderRef: &bad}))
	assert.NoError(t, binding.Validator.ValidateStruct(&FeeRequest{AccountID: acct, Amount: 1, Reason: "r"}))

	assert.NoError(t, binding.Validator.ValidateStruct(&HistoryQuery{Kind: "deposit", Status: "pending"}))
	assert.Error(t, binding.Validator.ValidateStruct(&HistoryQuery{Kind: "gift"}))
}
