package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports/mocks"
	"social-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"
)

// initiate runs a deposit initiation against the mocked gateway and returns the pending transaction id.
func (d *walletTestDeps) initiate(t *testing.T, acct uuid.UUID, ref string, amount int64) uuid.UUID {
	t.Helper()
	d.gateway.EXPECT().CreateCustomer(gomock.Any(), acct.String()).Return("cus_"+ref, nil).MaxTimes(1)
	d.gateway.EXPECT().CreatePaymentIntent(gomock.Any(), amount, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, amount int64, _ string, meta map[string]string) (*domain.PaymentIntent, error) {
			return &domain.PaymentIntent{
				Ref: ref, ClientSecret: ref + "_secret", Status: domain.IntentRequiresPaymentMethod,
				Amount: amount, Currency: "usd", Metadata: meta,
			}, nil
		})

	init, err := d.svc.Deposit(context.Background(), acct, amount)
	require.NoError(t, err)
	require.Equal(t, ref, init.IntentRef)
	return init.TransactionID
}

func TestDeposit_InitiateCreatesPendingAndIntent(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)

	d.gateway.EXPECT().CreateCustomer(gomock.Any(), acct.String()).Return("cus_1", nil)
	d.gateway.EXPECT().CreatePaymentIntent(gomock.Any(), int64(50), "cus_1", gomock.Any()).
		DoAndReturn(func(_ context.Context, amount int64, _ string, meta map[string]string) (*domain.PaymentIntent, error) {
			assert.Equal(t, acct.String(), meta[domain.MetaAccountID])
			assert.NotEmpty(t, meta[domain.MetaTransactionID])
			return &domain.PaymentIntent{Ref: "pi_1", ClientSecret: "pi_1_secret", Status: domain.IntentRequiresPaymentMethod, Amount: amount, Currency: "usd"}, nil
		})

	init, err := d.svc.Deposit(context.Background(), acct, 50)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", init.IntentRef)
	assert.Equal(t, "pi_1_secret", init.ClientSecret)

	tx, err := d.svc.GetTransaction(context.Background(), acct, init.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, domain.KindDeposit, tx.Kind)
	require.NotNil(t, tx.ExternalRef)
	assert.Equal(t, "pi_1", *tx.ExternalRef)
	assert.Equal(t, "50", tx.Metadata[domain.MetaRequestedAmount])
	assert.Equal(t, int64(0), d.balance(t, acct), "pending deposits do not move the balance")

	stored, err := d.store.Accounts().GetByID(context.Background(), acct)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalCustomerRef)
	assert.Equal(t, "cus_1", *stored.ExternalCustomerRef)
}

func TestDeposit_ReusesExistingCustomer(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	require.NoError(t, d.store.Accounts().SetCustomerRef(context.Background(), acct, "cus_existing"))

	d.gateway.EXPECT().CreatePaymentIntent(gomock.Any(), int64(20), "cus_existing", gomock.Any()).
		Return(&domain.PaymentIntent{Ref: "pi_2", Status: domain.IntentRequiresPaymentMethod, Amount: 20, Currency: "usd"}, nil)

	_, err := d.svc.Deposit(context.Background(), acct, 20)
	require.NoError(t, err)
}

func TestDeposit_InvalidAmountAndUnknownAccount(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)

	_, err := d.svc.Deposit(context.Background(), acct, 0)
	assert.Equal(t, "WAL_002", apperror.CodeOf(err))

	_, err = d.svc.Deposit(context.Background(), uuid.New(), 10)
	assert.Equal(t, "WAL_004", apperror.CodeOf(err))
}

func TestDeposit_GatewayFailureLeavesPending(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)

	d.gateway.EXPECT().CreateCustomer(gomock.Any(), gomock.Any()).Return("cus_1", nil)
	d.gateway.EXPECT().CreatePaymentIntent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset"))

	_, err := d.svc.Deposit(context.Background(), acct, 50)
	require.Error(t, err)
	assert.Equal(t, "GW_001", apperror.CodeOf(err))
	assert.True(t, apperror.IsRetryable(err))

	history := d.history(t, acct)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusPending, history[0].Status)
	assert.Nil(t, history[0].ExternalRef)
	assert.Equal(t, int64(0), d.balance(t, acct))
}

func TestDeposit_ClosedBeforeIntentLinked(t *testing.T) {
	ctx := context.Background()
	d := setupWallet(t)
	acct := d.openAccount(t, 0)

	d.gateway.EXPECT().CreateCustomer(gomock.Any(), acct.String()).Return("cus_1", nil)
	d.gateway.EXPECT().CreatePaymentIntent(gomock.Any(), int64(50), "cus_1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, amount int64, _ string, meta map[string]string) (*domain.PaymentIntent, error) {
			// The owner cancels while the intent is still being created.
			txID := uuid.MustParse(meta[domain.MetaTransactionID])
			_, err := d.svc.CancelPending(ctx, acct, txID)
			require.NoError(t, err)
			return &domain.PaymentIntent{Ref: "pi_1", ClientSecret: "pi_1_secret", Amount: amount, Metadata: meta}, nil
		})

	init, err := d.svc.Deposit(ctx, acct, 50)
	require.Error(t, err)
	assert.Nil(t, init, "no client secret for a closed deposit")
	assert.Equal(t, "WAL_006", apperror.CodeOf(err))

	history := d.history(t, acct)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusCancelled, history[0].Status)
	require.NotNil(t, history[0].ExternalRef)
	assert.Equal(t, "pi_1", *history[0].ExternalRef)
}

func TestConfirmDeposit_CreditsOnceUnderRepeatedCalls(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 50)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 50, txID), nil).Times(3)

	var first *domain.Transaction
	for i := 0; i < 3; i++ {
		tx, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
		require.NoError(t, err)
		if first == nil {
			first = tx
		}
		assert.Equal(t, first.ID, tx.ID)
		assert.Equal(t, domain.StatusCompleted, tx.Status)
	}

	assert.Equal(t, txID, first.ID)
	assert.Equal(t, int64(50), d.balance(t, acct))
	assert.Len(t, d.history(t, acct), 1)
	d.requireConsistent(t, acct)
}

func TestConfirmDeposit_ConcurrentConfirmsCreditOnce(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_c", 75)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_c").Return(succeededIntent("pi_c", 75, txID), nil).AnyTimes()

	var g errgroup.Group
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		i := i
		g.Go(func() error {
			tx, err := d.svc.ConfirmDeposit(context.Background(), "pi_c", acct)
			if err != nil {
				return err
			}
			ids[i] = tx.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, txID, id)
	}
	assert.Equal(t, int64(75), d.balance(t, acct))
	d.requireConsistent(t, acct)
}

func TestConfirmDeposit_NotReady(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 50)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").
		Return(&domain.PaymentIntent{Ref: "pi_1", Status: domain.IntentProcessing, Amount: 50, Currency: "usd"}, nil)

	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	require.Error(t, err)
	assert.Equal(t, "REC_001", apperror.CodeOf(err))
	assert.True(t, apperror.IsRetryable(err))

	tx, err := d.svc.GetTransaction(context.Background(), acct, txID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, int64(0), d.balance(t, acct))
}

func TestConfirmDeposit_GatewayError(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	d.initiate(t, acct, "pi_1", 50)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(nil, errors.New("timeout"))

	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	assert.Equal(t, "GW_001", apperror.CodeOf(err))
	assert.Equal(t, int64(0), d.balance(t, acct))
}

func TestConfirmDeposit_CreditsConfirmedAmount(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 50)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 48, txID), nil)

	tx, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	require.NoError(t, err)
	assert.Equal(t, int64(48), tx.Amount)
	assert.Equal(t, "50", tx.Metadata[domain.MetaRequestedAmount])
	assert.Equal(t, int64(48), d.balance(t, acct))
	d.requireConsistent(t, acct)
}

func TestConfirmDeposit_OtherAccountSeesNotFound(t *testing.T) {
	d := setupWallet(t)
	owner := d.openAccount(t, 0)
	other := d.openAccount(t, 0)
	txID := d.initiate(t, owner, "pi_1", 50)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 50, txID), nil)

	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", other)
	assert.Equal(t, "WAL_004", apperror.CodeOf(err))
	assert.Equal(t, int64(0), d.balance(t, owner))
	assert.Equal(t, int64(0), d.balance(t, other))
}

func TestConfirmDeposit_UnknownIntent(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_missing").Return(succeededIntent("pi_missing", 10, uuid.New()), nil)

	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_missing", acct)
	assert.Equal(t, "WAL_004", apperror.CodeOf(err))
}

func TestConfirmDeposit_MismatchedCorrelation(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	d.initiate(t, acct, "pi_1", 50)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 50, uuid.New()), nil)

	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	assert.Equal(t, "WAL_002", apperror.CodeOf(err))
	assert.Equal(t, int64(0), d.balance(t, acct))
}

func TestConfirmDeposit_CurrencyMismatch(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 50)

	intent := succeededIntent("pi_1", 50, txID)
	intent.Currency = "eur"
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(intent, nil)

	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	assert.Equal(t, "WAL_007", apperror.CodeOf(err))
	assert.Equal(t, int64(0), d.balance(t, acct))
}

func TestConfirmDeposit_EmptyRef(t *testing.T) {
	d := setupWallet(t)
	_, err := d.svc.ConfirmDeposit(context.Background(), "", uuid.New())
	assert.Equal(t, "WAL_002", apperror.CodeOf(err))
}

func TestConfirmDeposit_CacheFastPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockDepositCache(ctrl)
	d := setupWallet(t, withCache(cache))
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 50)

	gomock.InOrder(
		cache.EXPECT().Get(gomock.Any(), "pi_1").Return(nil, nil),
		cache.EXPECT().Set(gomock.Any(), &domain.ConfirmedDeposit{IntentRef: "pi_1", AccountID: acct, TransactionID: txID}).Return(nil),
		cache.EXPECT().Get(gomock.Any(), "pi_1").Return(&domain.ConfirmedDeposit{IntentRef: "pi_1", AccountID: acct, TransactionID: txID}, nil),
	)
	// Only the first confirmation reaches the processor.
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 50, txID), nil).Times(1)

	first, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	require.NoError(t, err)
	second, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(50), d.balance(t, acct))
}

func TestConfirmDeposit_CacheFailureFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockDepositCache(ctrl)
	d := setupWallet(t, withCache(cache))
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 50)

	cache.EXPECT().Get(gomock.Any(), "pi_1").Return(nil, errors.New("redis down"))
	cache.EXPECT().Set(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 50, txID), nil)

	tx, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.Equal(t, int64(50), d.balance(t, acct))
}

func TestSweep_ResolvesStaleDeposits(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	succeeded := d.initiate(t, acct, "pi_ok", 40)
	canceled := d.initiate(t, acct, "pi_cancel", 10)
	processing := d.initiate(t, acct, "pi_wait", 5)
	broken := d.initiate(t, acct, "pi_err", 7)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_ok").Return(succeededIntent("pi_ok", 40, succeeded), nil)
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_cancel").
		Return(&domain.PaymentIntent{Ref: "pi_cancel", Status: domain.IntentCanceled, Amount: 10, Currency: "usd"}, nil)
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_wait").
		Return(&domain.PaymentIntent{Ref: "pi_wait", Status: domain.IntentProcessing, Amount: 5, Currency: "usd"}, nil)
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_err").Return(nil, errors.New("unavailable"))

	report, err := d.recon.Sweep(context.Background(), staleSweepAge(), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Errors)

	status := func(id uuid.UUID) domain.TransactionStatus {
		tx, err := d.svc.GetTransaction(context.Background(), acct, id)
		require.NoError(t, err)
		return tx.Status
	}
	assert.Equal(t, domain.StatusCompleted, status(succeeded))
	assert.Equal(t, domain.StatusFailed, status(canceled))
	assert.Equal(t, domain.StatusPending, status(processing))
	assert.Equal(t, domain.StatusPending, status(broken))
	assert.Equal(t, int64(40), d.balance(t, acct))
	d.requireConsistent(t, acct)
}

func TestSweep_SkipsFreshAndRespectsBatchSize(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	d.initiate(t, acct, "pi_1", 10)

	report, err := d.recon.Sweep(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)

	_, err = d.recon.Sweep(context.Background(), time.Hour, 0)
	assert.Equal(t, "WAL_002", apperror.CodeOf(err))
}

func TestSweep_AfterConfirmIsNoop(t *testing.T) {
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 30)

	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").Return(succeededIntent("pi_1", 30, txID), nil)
	_, err := d.svc.ConfirmDeposit(context.Background(), "pi_1", acct)
	require.NoError(t, err)

	report, err := d.recon.Sweep(context.Background(), staleSweepAge(), 10)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Equal(t, int64(30), d.balance(t, acct))
}

func TestSweep_DepositConfirmedAfterListingIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	d := setupWallet(t)
	acct := d.openAccount(t, 0)
	txID := d.initiate(t, acct, "pi_1", 30)

	confirmed := false
	d.gateway.EXPECT().GetPaymentIntent(gomock.Any(), "pi_1").
		DoAndReturn(func(ctx context.Context, ref string) (*domain.PaymentIntent, error) {
			// The webhook lands between the sweep's listing and its row lock.
			if !confirmed {
				confirmed = true
				_, err := d.svc.ConfirmDeposit(ctx, ref, acct)
				require.NoError(t, err)
			}
			return succeededIntent("pi_1", 30, txID), nil
		}).Times(2)

	report, err := d.recon.Sweep(ctx, staleSweepAge(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Completed)
	assert.Zero(t, report.Errors)
	assert.Equal(t, int64(30), d.balance(t, acct), "credited once")
	d.requireConsistent(t, acct)
}
