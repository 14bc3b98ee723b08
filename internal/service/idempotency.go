package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IdempotencyGuard runs keyed money operations at most once. The record is written in the
// same scope as the transactions it names, so a retry after a lost response replays the
// first outcome instead of moving funds again.
type IdempotencyGuard struct {
	store  ports.Store
	events ports.EventRecorder
	cache  ports.IdempotencyCache // optional
	now    func() time.Time
	log    zerolog.Logger
}

// NewIdempotencyGuard creates a guard over store. cache may be nil.
func NewIdempotencyGuard(store ports.Store, events ports.EventRecorder, cache ports.IdempotencyCache, log zerolog.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{
		store:  store,
		events: events,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
}

// keyedCall identifies one submission of a money operation.
type keyedCall struct {
	clientKey string // empty runs the operation without a record
	accountID uuid.UUID
	operation string
	params    []string
}

type scopedOp func(ctx context.Context, sc ports.Scope, j *journal) ([]*domain.Transaction, error)

// Run executes op in one atomic scope and returns the transactions it produced. When the
// call's key was seen before with the same parameters, the stored transactions are
// returned and replayed is true.
func (g *IdempotencyGuard) Run(ctx context.Context, call keyedCall, op scopedOp) (txns []*domain.Transaction, replayed bool, err error) {
	if call.clientKey == "" {
		var j journal
		err := g.store.Within(ctx, func(ctx context.Context, sc ports.Scope) error {
			out, err := op(ctx, sc, &j)
			txns = out
			return err
		})
		if err != nil {
			return nil, false, scopeError(err)
		}
		j.flush(ctx, g.events)
		return txns, false, nil
	}

	key := domain.BuildIdempotencyKey(call.accountID, call.operation, call.clientKey)
	fp := fingerprint(call.params)

	// Layer 1: Redis
	if g.cache != nil {
		rec, err := g.cache.Get(ctx, key)
		if err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to storage")
		} else if rec != nil {
			txns, err := replayRecord(ctx, g.store, rec, fp)
			return txns, err == nil, err
		}
	}

	// Layer 2: storage, in the same scope as the operation
	var (
		j       journal
		created *domain.IdempotencyRecord
	)
	err = g.store.Within(ctx, func(ctx context.Context, sc ports.Scope) error {
		rec, err := sc.Idempotency().Get(ctx, key)
		if err == nil {
			txns, err = replayRecord(ctx, sc, rec, fp)
			replayed = err == nil
			return err
		}
		if !errors.Is(err, ports.ErrNotFound) {
			return storageError("get idempotency key", err)
		}

		out, err := op(ctx, sc, &j)
		if err != nil {
			return err
		}
		rec = &domain.IdempotencyRecord{
			Key:            key,
			AccountID:      call.accountID,
			Operation:      call.operation,
			Fingerprint:    fp,
			TransactionIDs: transactionIDs(out),
			CreatedAt:      g.now(),
		}
		if err := sc.Idempotency().Create(ctx, rec); err != nil {
			return err
		}
		txns, created = out, rec
		return nil
	})
	if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
		// A concurrent submission committed first and this scope rolled back.
		rec, err := g.store.Idempotency().Get(ctx, key)
		if err != nil {
			return nil, false, storageError("get idempotency key", err)
		}
		txns, err := replayRecord(ctx, g.store, rec, fp)
		return txns, err == nil, err
	}
	if err != nil {
		return nil, false, scopeError(err)
	}
	if created == nil {
		return txns, replayed, nil
	}

	j.flush(ctx, g.events)
	if g.cache != nil {
		if err := g.cache.Set(ctx, created); err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency record in redis")
		}
	}
	return txns, false, nil
}

// replayRecord loads the transactions of rec after checking the request matches the one
// that created it.
func replayRecord(ctx context.Context, sc ports.Scope, rec *domain.IdempotencyRecord, fp string) ([]*domain.Transaction, error) {
	if rec.Fingerprint != fp {
		return nil, apperror.ErrIdempotencyKeyReused()
	}
	out := make([]*domain.Transaction, 0, len(rec.TransactionIDs))
	for _, id := range rec.TransactionIDs {
		tx, err := sc.Transactions().GetByID(ctx, id)
		if err != nil {
			return nil, storageError("get replayed transaction", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func transactionIDs(txns []*domain.Transaction) []uuid.UUID {
	ids := make([]uuid.UUID, len(txns))
	for i, tx := range txns {
		ids[i] = tx.ID
	}
	return ids
}

// fingerprint hashes the request parameters that must repeat for a replay.
func fingerprint(params []string) string {
	sum := sha256.Sum256([]byte(strings.Join(params, "\x1f")))
	return hex.EncodeToString(sum[:])
}
