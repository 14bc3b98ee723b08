package handler

import (
	"time"

	"social-wallet/internal/adapter/http/dto"
	"social-wallet/internal/core/domain"
)

func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:              tx.ID.String(),
		AccountID:       tx.AccountID.String(),
		Kind:            string(tx.Kind),
		Status:          string(tx.Status),
		Amount:          tx.Amount,
		Display:         domain.FormatMinor(tx.Amount, tx.Currency),
		Currency:        tx.Currency,
		BalanceBefore:   tx.BalanceBefore,
		BalanceAfter:    tx.BalanceAfter,
		Description:     tx.Description,
		ExternalRef:     tx.ExternalRef,
		RelatedOrderRef: tx.RelatedOrderRef,
		Metadata:        publicMetadata(tx.Metadata),
		CreatedAt:       tx.CreatedAt.Format(time.RFC3339),
		CompletedAt:     formatTime(tx.CompletedAt),
		FailedAt:        formatTime(tx.FailedAt),
		CancelledAt:     formatTime(tx.CancelledAt),
	}
	if tx.CounterpartyRef != nil {
		s := tx.CounterpartyRef.String()
		resp.CounterpartyRef = &s
	}
	return resp
}

func toTransactionList(txns []domain.Transaction) []dto.TransactionResponse {
	out := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		out = append(out, toTransactionResponse(&txns[i]))
	}
	return out
}

func toTransferResponse(r *domain.TransferResult) dto.TransferResponse {
	return dto.TransferResponse{
		Debit:  toTransactionResponse(r.Debit),
		Credit: toTransactionResponse(r.Credit),
	}
}

// publicMetadata drops the encrypted payout details from responses.
func publicMetadata(m map[string]string) map[string]string {
	if _, ok := m[domain.MetaPayoutDetails]; !ok {
		return m
	}
	out := make(map[string]string, len(m)-1)
	for k, v := range m {
		if k != domain.MetaPayoutDetails {
			out[k] = v
		}
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
