package service

import (
	"context"
	"testing"
	"time"

	"social-wallet/internal/adapter/storage/memory"
	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Valid 32-byte key in hex (64 chars)
const testDetailsKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

type walletTestDeps struct {
	svc       *WalletServiceImpl
	store     *memory.Store
	ledger    *Ledger
	transfers *TransferProtocol
	recon     *Reconciler
	gateway   *mocks.MockPaymentGateway
	cipher    *AESDetailsCipher
	platform  uuid.UUID
	ctrl      *gomock.Controller
}

type setupOption func(*setupConfig)

type setupConfig struct {
	events ports.EventRecorder
	cache  ports.DepositCache
	keys   ports.IdempotencyCache
}

func withEvents(rec ports.EventRecorder) setupOption {
	return func(c *setupConfig) { c.events = rec }
}

func withCache(cache ports.DepositCache) setupOption {
	return func(c *setupConfig) { c.cache = cache }
}

func withIdempotencyCache(cache ports.IdempotencyCache) setupOption {
	return func(c *setupConfig) { c.keys = cache }
}

func setupWallet(t *testing.T, opts ...setupOption) *walletTestDeps {
	t.Helper()
	ctrl := gomock.NewController(t)

	cfg := setupConfig{events: NewEventRecorder(nil, newTestLogger())}
	for _, o := range opts {
		o(&cfg)
	}

	store := memory.NewStore()
	log := newTestLogger()
	ledger := NewLedger(store, cfg.events, log)
	transfers := NewTransferProtocol(store, ledger, log)
	gateway := mocks.NewMockPaymentGateway(ctrl)
	recon := NewReconciler(store, ledger, gateway, cfg.cache, log)
	cipher, err := NewAESDetailsCipher(testDetailsKey)
	require.NoError(t, err)

	guard := NewIdempotencyGuard(store, cfg.events, cfg.keys, log)

	platform := uuid.New()
	svc := NewWalletService(store, ledger, transfers, recon, guard, cipher, WalletPolicy{
		Currency:          "USD",
		MinWithdrawal:     10,
		MaxWithdrawal:     10000,
		WithdrawalMethods: []domain.WithdrawalMethod{domain.WithdrawalBankTransfer, domain.WithdrawalPayPal},
		PlatformAccountID: platform,
		MaxPageSize:       50,
	}, log)

	d := &walletTestDeps{
		svc:       svc,
		store:     store,
		ledger:    ledger,
		transfers: transfers,
		recon:     recon,
		gateway:   gateway,
		cipher:    cipher,
		platform:  platform,
		ctrl:      ctrl,
	}
	_, err = svc.OpenAccount(context.Background(), platform)
	require.NoError(t, err)
	return d
}

// openAccount creates an account funded through a completed ledger deposit.
func (d *walletTestDeps) openAccount(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := d.svc.OpenAccount(context.Background(), id)
	require.NoError(t, err)
	if balance > 0 {
		_, err = d.ledger.Apply(context.Background(), Mutation{AccountID: id, Kind: domain.KindDeposit, Amount: balance})
		require.NoError(t, err)
	}
	return id
}

func (d *walletTestDeps) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	b, err := d.svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Amount
}

func (d *walletTestDeps) history(t *testing.T, id uuid.UUID) []domain.Transaction {
	t.Helper()
	page, err := d.svc.GetHistory(context.Background(), ports.HistoryRequest{AccountID: id, Page: 1, PageSize: 50})
	require.NoError(t, err)
	return page.Transactions
}

// requireConsistent checks that balance equals the sum of completed transactions.
func (d *walletTestDeps) requireConsistent(t *testing.T, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		audit, err := d.svc.ReconcileAccount(context.Background(), id)
		require.NoError(t, err)
		require.Truef(t, audit.Consistent, "account %s: balance %d, ledger sum %d", id, audit.Balance, audit.LedgerSum)
	}
}

func succeededIntent(ref string, amount int64, txID uuid.UUID) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		Ref:      ref,
		Status:   domain.IntentSucceeded,
		Amount:   amount,
		Currency: "usd",
		Metadata: map[string]string{domain.MetaTransactionID: txID.String()},
	}
}

func staleSweepAge() time.Duration {
	// Negative age puts the cutoff in the future so freshly created deposits qualify.
	return -time.Second
}
