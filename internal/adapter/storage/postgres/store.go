package postgres

import (
	"context"
	"errors"
	"fmt"

	"social-wallet/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const (
	uniqueViolation           = "23505"
	completedExternalRefIndex = "ux_transactions_completed_external_ref"
	idempotencyKeyPrimary     = "idempotency_keys_pkey"
)

// Store implements ports.Store on a pgx pool. Calls made through Accounts and
// Transactions run in autocommit mode; Within runs fn inside one pgx.Tx.
type Store struct {
	pool Pool
	log  zerolog.Logger
}

// NewStore creates a Store over pool.
func NewStore(pool Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

func (s *Store) Accounts() ports.AccountRepository         { return NewAccountRepo(s.pool) }
func (s *Store) Transactions() ports.TransactionRepository { return NewTransactionRepo(s.pool) }
func (s *Store) Idempotency() ports.IdempotencyRepository  { return NewIdempotencyRepo(s.pool) }

// Events returns the ledger event repository backed by the pool.
func (s *Store) Events() ports.EventRepository { return NewEventRepo(s.pool) }

// Within begins a transaction, runs fn with repositories bound to it and commits
// when fn returns nil. Any error or panic rolls the transaction back.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, sc ports.Scope) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(ctx, txScope{q: tx}); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

type txScope struct {
	q Querier
}

func (s txScope) Accounts() ports.AccountRepository         { return NewAccountRepo(s.q) }
func (s txScope) Transactions() ports.TransactionRepository { return NewTransactionRepo(s.q) }
func (s txScope) Idempotency() ports.IdempotencyRepository  { return NewIdempotencyRepo(s.q) }

// translate maps driver errors onto the storage sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case completedExternalRefIndex:
		return fmt.Errorf("%s: %w", pgErr.Detail, ports.ErrDuplicateExternalRef)
	case idempotencyKeyPrimary:
		return fmt.Errorf("%s: %w", pgErr.Detail, ports.ErrDuplicateIdempotencyKey)
	}
	return err
}
