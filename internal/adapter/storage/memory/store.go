// Package memory is an in-process ledger store with the same observable semantics as the
// Postgres adapter. A unit of work holds the writer lock and edits a private copy of the
// state, which replaces the committed state only when the unit of work succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"

	"github.com/google/uuid"
)

// Store implements ports.Store in memory.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

type state struct {
	accounts map[uuid.UUID]domain.Account
	txs      map[uuid.UUID]domain.Transaction
	seq      map[uuid.UUID]int64
	keys     map[string]domain.IdempotencyRecord
	events   []domain.LedgerEvent
	next     int64
}

func newState() *state {
	return &state{
		accounts: make(map[uuid.UUID]domain.Account),
		txs:      make(map[uuid.UUID]domain.Transaction),
		seq:      make(map[uuid.UUID]int64),
		keys:     make(map[string]domain.IdempotencyRecord),
	}
}

func (st *state) clone() *state {
	c := &state{
		accounts: make(map[uuid.UUID]domain.Account, len(st.accounts)),
		txs:      make(map[uuid.UUID]domain.Transaction, len(st.txs)),
		seq:      make(map[uuid.UUID]int64, len(st.seq)),
		keys:     make(map[string]domain.IdempotencyRecord, len(st.keys)),
		events:   st.events,
		next:     st.next,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.txs {
		c.txs[k] = v
	}
	for k, v := range st.seq {
		c.seq[k] = v
	}
	for k, v := range st.keys {
		c.keys[k] = v
	}
	return c
}

// Within runs fn against a private copy of the state and commits it when fn returns nil.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, sc ports.Scope) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &scope{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.state = work
	return nil
}

// Accounts returns a repository where each call is its own unit of work.
func (s *Store) Accounts() ports.AccountRepository {
	return autoAccounts{s: s}
}

// Transactions returns a repository where each call is its own unit of work.
func (s *Store) Transactions() ports.TransactionRepository {
	return autoTransactions{s: s}
}

// Idempotency returns a repository where each call is its own unit of work.
func (s *Store) Idempotency() ports.IdempotencyRepository {
	return autoIdempotency{s: s}
}

// Events returns the event repository.
func (s *Store) Events() ports.EventRepository {
	return eventRepo{s: s}
}

// LedgerEvents returns a copy of the persisted events.
func (s *Store) LedgerEvents() []domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LedgerEvent(nil), s.state.events...)
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name returns the dependency name.
func (s *Store) Name() string {
	return "memory"
}

func (s *Store) read(fn func(sc *scope) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&scope{st: s.state})
}

func (s *Store) write(ctx context.Context, fn func(sc *scope) error) error {
	return s.Within(ctx, func(_ context.Context, sc ports.Scope) error {
		return fn(sc.(*scope))
	})
}

type scope struct {
	st *state
}

func (sc *scope) Accounts() ports.AccountRepository         { return accountRepo{st: sc.st} }
func (sc *scope) Transactions() ports.TransactionRepository { return transactionRepo{st: sc.st} }
func (sc *scope) Idempotency() ports.IdempotencyRepository  { return idempotencyRepo{st: sc.st} }

type eventRepo struct{ s *Store }

func (r eventRepo) Create(ctx context.Context, event *domain.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.state.events = append(r.s.state.events, *event)
	return nil
}

// --- accounts ---

type accountRepo struct{ st *state }

func (r accountRepo) Create(_ context.Context, account *domain.Account) error {
	if _, ok := r.st.accounts[account.ID]; ok {
		return nil
	}
	if account.Balance < 0 {
		return fmt.Errorf("create account %s: negative balance", account.ID)
	}
	r.st.accounts[account.ID] = cloneAccount(*account)
	return nil
}

func (r accountRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	out := cloneAccount(a)
	return &out, nil
}

func (r accountRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r accountRepo) UpdateBalance(_ context.Context, id uuid.UUID, balance int64) error {
	a, ok := r.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	if balance < 0 {
		return fmt.Errorf("account %s: balance would become negative", id)
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC()
	r.st.accounts[id] = a
	return nil
}

func (r accountRepo) SetCustomerRef(_ context.Context, id uuid.UUID, customerRef string) error {
	a, ok := r.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
	}
	if a.HasCustomer() {
		return nil
	}
	a.ExternalCustomerRef = &customerRef
	a.UpdatedAt = time.Now().UTC()
	r.st.accounts[id] = a
	return nil
}

// --- transactions ---

type transactionRepo struct{ st *state }

func (r transactionRepo) Create(_ context.Context, tx *domain.Transaction) error {
	if _, ok := r.st.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if err := r.checkUnique(tx); err != nil {
		return err
	}
	r.st.next++
	r.st.seq[tx.ID] = r.st.next
	r.st.txs[tx.ID] = cloneTx(*tx)
	return nil
}

// checkUnique mirrors the unique index on external_ref among completed transactions.
func (r transactionRepo) checkUnique(tx *domain.Transaction) error {
	if tx.Status != domain.StatusCompleted || tx.ExternalRef == nil {
		return nil
	}
	for id, other := range r.st.txs {
		if id != tx.ID && other.Status == domain.StatusCompleted &&
			other.ExternalRef != nil && *other.ExternalRef == *tx.ExternalRef {
			return fmt.Errorf("external ref %s: %w", *tx.ExternalRef, ports.ErrDuplicateExternalRef)
		}
	}
	return nil
}

func (r transactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, ok := r.st.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	out := cloneTx(tx)
	return &out, nil
}

func (r transactionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r transactionRepo) GetByExternalRefForUpdate(_ context.Context, ref string) (*domain.Transaction, error) {
	var best *domain.Transaction
	for _, tx := range r.sorted(false) {
		if tx.ExternalRef == nil || *tx.ExternalRef != ref {
			continue
		}
		if tx.Status == domain.StatusCompleted {
			out := tx
			return &out, nil
		}
		if best == nil {
			out := tx
			best = &out
		}
	}
	if best == nil {
		return nil, fmt.Errorf("external ref %s: %w", ref, ports.ErrNotFound)
	}
	return best, nil
}

func (r transactionRepo) FindCompletedByExternalRef(_ context.Context, ref string) (*domain.Transaction, error) {
	for _, tx := range r.st.txs {
		if tx.Status == domain.StatusCompleted && tx.ExternalRef != nil && *tx.ExternalRef == ref {
			out := cloneTx(tx)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("completed external ref %s: %w", ref, ports.ErrNotFound)
}

func (r transactionRepo) SetExternalRef(_ context.Context, id uuid.UUID, ref string) error {
	tx, ok := r.st.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
	}
	tx.ExternalRef = &ref
	r.st.txs[id] = tx
	return nil
}

func (r transactionRepo) Complete(_ context.Context, tx *domain.Transaction) error {
	cur, ok := r.st.txs[tx.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, ports.ErrNotFound)
	}
	if cur.Status != domain.StatusPending {
		return fmt.Errorf("transaction %s is %s, not pending", tx.ID, cur.Status)
	}
	if err := r.checkUnique(tx); err != nil {
		return err
	}
	cur.Status = tx.Status
	cur.Amount = tx.Amount
	cur.BalanceBefore = tx.BalanceBefore
	cur.BalanceAfter = tx.BalanceAfter
	cur.CompletedAt = tx.CompletedAt
	r.st.txs[tx.ID] = cloneTx(cur)
	return nil
}

func (r transactionRepo) Close(_ context.Context, tx *domain.Transaction) error {
	cur, ok := r.st.txs[tx.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, ports.ErrNotFound)
	}
	if cur.Status != domain.StatusPending {
		return fmt.Errorf("transaction %s is %s, not pending", tx.ID, cur.Status)
	}
	cur.Status = tx.Status
	cur.FailedAt = tx.FailedAt
	cur.CancelledAt = tx.CancelledAt
	r.st.txs[tx.ID] = cloneTx(cur)
	return nil
}

func (r transactionRepo) ListByAccount(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var matched []domain.Transaction
	for _, tx := range r.sorted(true) {
		if tx.AccountID != params.AccountID {
			continue
		}
		if f := params.Filter.Kind; f != nil && tx.Kind != *f {
			continue
		}
		if f := params.Filter.Status; f != nil && tx.Status != *f {
			continue
		}
		matched = append(matched, tx)
	}

	total := int64(len(matched))
	start := params.Page.Offset()
	if start < 0 || start >= len(matched) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.Page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r transactionRepo) SumCompleted(_ context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	for _, tx := range r.st.txs {
		if tx.AccountID == accountID && tx.Status == domain.StatusCompleted {
			sum += tx.Amount
		}
	}
	return sum, nil
}

func (r transactionRepo) FindOrderPayment(_ context.Context, accountID uuid.UUID, orderRef string) (*domain.Transaction, error) {
	for _, tx := range r.sorted(false) {
		if tx.AccountID == accountID && tx.Kind == domain.KindPayment && tx.Status == domain.StatusCompleted &&
			tx.Amount < 0 && tx.RelatedOrderRef != nil && *tx.RelatedOrderRef == orderRef {
			out := tx
			return &out, nil
		}
	}
	return nil, fmt.Errorf("order %s payment: %w", orderRef, ports.ErrNotFound)
}

func (r transactionRepo) SumOrderRefunds(_ context.Context, accountID uuid.UUID, orderRef string) (int64, error) {
	var sum int64
	for _, tx := range r.st.txs {
		if tx.AccountID == accountID && tx.Kind == domain.KindRefund && tx.Status == domain.StatusCompleted &&
			tx.Amount > 0 && tx.RelatedOrderRef != nil && *tx.RelatedOrderRef == orderRef {
			sum += tx.Amount
		}
	}
	return sum, nil
}

func (r transactionRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range r.sorted(false) {
		if len(out) == limit {
			break
		}
		if tx.Kind == domain.KindDeposit && tx.Status == domain.StatusPending && tx.CreatedAt.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// sorted returns copies of all transactions ordered by creation, newest first when desc.
func (r transactionRepo) sorted(desc bool) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(r.st.txs))
	for _, tx := range r.st.txs {
		out = append(out, cloneTx(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if desc {
			return r.st.seq[a.ID] > r.st.seq[b.ID]
		}
		return r.st.seq[a.ID] < r.st.seq[b.ID]
	})
	return out
}

// --- idempotency keys ---

type idempotencyRepo struct{ st *state }

func (r idempotencyRepo) Create(_ context.Context, rec *domain.IdempotencyRecord) error {
	if _, ok := r.st.keys[rec.Key]; ok {
		return fmt.Errorf("idempotency key %s: %w", rec.Key, ports.ErrDuplicateIdempotencyKey)
	}
	r.st.keys[rec.Key] = cloneRecord(*rec)
	return nil
}

func (r idempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := r.st.keys[key]
	if !ok {
		return nil, fmt.Errorf("idempotency key %s: %w", key, ports.ErrNotFound)
	}
	out := cloneRecord(rec)
	return &out, nil
}

func cloneRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.TransactionIDs = append([]uuid.UUID(nil), rec.TransactionIDs...)
	return rec
}

func cloneAccount(a domain.Account) domain.Account {
	if a.ExternalCustomerRef != nil {
		ref := *a.ExternalCustomerRef
		a.ExternalCustomerRef = &ref
	}
	return a
}

func cloneTx(tx domain.Transaction) domain.Transaction {
	if tx.Metadata != nil {
		m := make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			m[k] = v
		}
		tx.Metadata = m
	}
	tx.BalanceBefore = cloneInt(tx.BalanceBefore)
	tx.BalanceAfter = cloneInt(tx.BalanceAfter)
	tx.ExternalRef = cloneStr(tx.ExternalRef)
	tx.RelatedOrderRef = cloneStr(tx.RelatedOrderRef)
	if tx.CounterpartyRef != nil {
		id := *tx.CounterpartyRef
		tx.CounterpartyRef = &id
	}
	tx.CompletedAt = cloneTime(tx.CompletedAt)
	tx.FailedAt = cloneTime(tx.FailedAt)
	tx.CancelledAt = cloneTime(tx.CancelledAt)
	return tx
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
