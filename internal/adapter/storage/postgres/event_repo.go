package postgres

import (
	"context"
	"fmt"

	"social-wallet/internal/core/domain"
)

// EventRepo implements ports.EventRepository.
type EventRepo struct {
	q Querier
}

// NewEventRepo creates a PostgreSQL-backed EventRepository.
func NewEventRepo(q Querier) *EventRepo {
	return &EventRepo{q: q}
}

func (r *EventRepo) Create(ctx context.Context, ev *domain.LedgerEvent) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO ledger_events (id, transaction_id, account_id, kind, from_status, to_status, amount, external_ref, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.TransactionID, ev.AccountID, string(ev.Kind), nullStatus(ev.FromStatus),
		string(ev.ToStatus), ev.Amount, ev.ExternalRef, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

// nullStatus stores the empty origin of a newly created transaction as NULL.
func nullStatus(s domain.TransactionStatus) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}
