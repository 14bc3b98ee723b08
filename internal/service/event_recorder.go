package service

import (
	"context"
	"sync"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/rs/zerolog"
)

// EventRecorder implements ports.EventRecorder. Every transition is logged synchronously;
// persistence, when a repository is configured, happens in the background and never fails
// the money operation.
type EventRecorder struct {
	repo ports.EventRepository
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewEventRecorder creates a recorder. If repo is nil, events are only written to the logger.
func NewEventRecorder(repo ports.EventRepository, log zerolog.Logger) *EventRecorder {
	return &EventRecorder{repo: repo, log: log}
}

// Record emits one ledger event for tx having just entered its current status.
func (r *EventRecorder) Record(ctx context.Context, tx *domain.Transaction, from domain.TransactionStatus) {
	ev := domain.NewLedgerEvent(tx, from, time.Now().UTC())

	e := r.log.Info().
		Str("event_id", ev.ID.String()).
		Str("tx_id", ev.TransactionID.String()).
		Str("account_id", ev.AccountID.String()).
		Str("kind", string(ev.Kind)).
		Str("from", string(ev.FromStatus)).
		Str("to", string(ev.ToStatus)).
		Int64("amount", ev.Amount)
	if ev.ExternalRef != nil {
		e = e.Str("external_ref", *ev.ExternalRef)
	}
	e.Msg("ledger transition")

	if r.repo == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Detached from the request so a finished handler does not cancel the write.
		if err := r.repo.Create(context.WithoutCancel(ctx), &ev); err != nil {
			r.log.Warn().Err(err).Str("tx_id", ev.TransactionID.String()).Msg("failed to persist ledger event")
		}
	}()
}

// Wait blocks until queued event writes have finished.
func (r *EventRecorder) Wait() {
	r.wg.Wait()
}
