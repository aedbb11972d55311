package purchase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/provider"
	"github.com/zadahmed/everwith-entitlements/internal/storekit"
)

// ---- fakes ----

type fakeProvider struct {
	mu sync.Mutex

	offering     *provider.Offering
	offeringsErr error

	purchaseOutcome *provider.PurchaseOutcome
	purchaseErr     error
	purchaseCalls   int

	syncErr   error
	syncCalls int

	block chan struct{} // when set, Purchase waits for it or ctx
}

func (f *fakeProvider) Offerings(ctx context.Context, placement string) (*provider.Offering, error) {
	return f.offering, f.offeringsErr
}

func (f *fakeProvider) Purchase(ctx context.Context, offer provider.Offer) (*provider.PurchaseOutcome, error) {
	f.mu.Lock()
	f.purchaseCalls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.purchaseOutcome, f.purchaseErr
}

func (f *fakeProvider) CustomerInfo(ctx context.Context) (*provider.CustomerInfo, error) {
	return &provider.CustomerInfo{Tier: entitlement.TierFree}, nil
}

func (f *fakeProvider) SyncPurchases(ctx context.Context) (*provider.CustomerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return &provider.CustomerInfo{Tier: entitlement.TierPremiumYearly}, f.syncErr
}

func (f *fakeProvider) counts() (purchases, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purchaseCalls, f.syncCalls
}

type fakeStore struct {
	mu       sync.Mutex
	tx       *storekit.Transaction
	err      error
	finished []string
	calls    int
}

func (f *fakeStore) Purchase(ctx context.Context, productID string) (*storekit.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tx, f.err
}

func (f *fakeStore) Finish(ctx context.Context, tx *storekit.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, tx.TransactionID)
	return nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRefresher) ForceRefresh(ctx context.Context) (entitlement.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return entitlement.Default(), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	txs   []entitlement.PurchaseTransaction
	err   error
	found chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{found: make(chan struct{}, 16)}
}

func (f *fakeNotifier) Notify(ctx context.Context, tx entitlement.PurchaseTransaction) error {
	f.mu.Lock()
	f.txs = append(f.txs, tx)
	f.mu.Unlock()
	f.found <- struct{}{}
	return f.err
}

func (f *fakeNotifier) wait(t *testing.T) entitlement.PurchaseTransaction {
	t.Helper()
	select {
	case <-f.found:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[len(f.txs)-1]
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func yearlyOffering() *provider.Offering {
	return &provider.Offering{
		Placement: "paywall_premium",
		Available: []provider.Offer{{ProductID: "premium_yearly"}, {ProductID: "premium_monthly"}},
	}
}

func newCoordinator(p *fakeProvider, s *fakeStore, r *fakeRefresher, n *fakeNotifier) *Coordinator {
	return NewCoordinator(p, s, r, n, discardLogger())
}

// ---- TESTS ----

func TestPurchase_Success_RefreshesAndNotifies(t *testing.T) {
	p := &fakeProvider{
		offering:        yearlyOffering(),
		purchaseOutcome: &provider.PurchaseOutcome{TransactionID: "tx-77"},
	}
	r := &fakeRefresher{}
	n := newFakeNotifier()
	c := newCoordinator(p, &fakeStore{}, r, n)

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
	require.False(t, res.UsedFallback)
	require.Equal(t, "tx-77", res.Transaction.TransactionID)
	require.Equal(t, entitlement.PurchaseTypeSubscription, res.Transaction.PurchaseType)

	tx := n.wait(t)
	require.Equal(t, "tx-77", tx.TransactionID)
	require.Equal(t, 1, r.calls)
}

func TestPurchase_FreeTier_Rejected(t *testing.T) {
	c := newCoordinator(&fakeProvider{}, &fakeStore{}, &fakeRefresher{}, newFakeNotifier())

	_, err := c.Purchase(context.Background(), entitlement.TierFree)
	require.ErrorIs(t, err, common.ErrOfferUnavailable)
}

func TestPurchase_NoOffer_FailsWithOfferUnavailable(t *testing.T) {
	p := &fakeProvider{offering: &provider.Offering{}}
	c := newCoordinator(p, &fakeStore{}, &fakeRefresher{}, newFakeNotifier())

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.ErrorIs(t, err, common.ErrOfferUnavailable)
	require.Equal(t, StateFailed, res.State)
}

func TestPurchase_UserCancelled_NotAnError(t *testing.T) {
	p := &fakeProvider{
		offering:        yearlyOffering(),
		purchaseOutcome: &provider.PurchaseOutcome{Cancelled: true},
	}
	n := newFakeNotifier()
	c := newCoordinator(p, &fakeStore{}, &fakeRefresher{}, n)

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, res.State)
	require.Nil(t, res.Transaction)
	require.Equal(t, 0, n.count())
}

func TestPurchase_Pending_SurfacedNotFailed(t *testing.T) {
	p := &fakeProvider{
		offering:        yearlyOffering(),
		purchaseOutcome: &provider.PurchaseOutcome{Pending: true},
	}
	c := newCoordinator(p, &fakeStore{}, &fakeRefresher{}, newFakeNotifier())

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.ErrorIs(t, err, common.ErrPurchasePending)
	require.Equal(t, StatePending, res.State)
}

func TestPurchase_GenericFailure_NoFallback(t *testing.T) {
	p := &fakeProvider{
		offering:    yearlyOffering(),
		purchaseErr: errors.New("billing unavailable"),
	}
	s := &fakeStore{}
	c := newCoordinator(p, s, &fakeRefresher{}, newFakeNotifier())

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.ErrorIs(t, err, common.ErrPurchaseFailed)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, 0, s.calls) // fallback must not arm on generic failures
}

func TestPurchase_StoreProblem_FallbackSucceedsOnce(t *testing.T) {
	p := &fakeProvider{
		offering:    yearlyOffering(),
		purchaseErr: common.ErrStoreProblem,
	}
	s := &fakeStore{tx: &storekit.Transaction{
		ProductID:     "premium_yearly",
		TransactionID: "native-1",
		PurchaseDate:  time.Now().UTC(),
		Verified:      true,
	}}
	r := &fakeRefresher{}
	n := newFakeNotifier()
	c := newCoordinator(p, s, r, n)

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
	require.True(t, res.UsedFallback)
	require.Equal(t, "native-1", res.Transaction.TransactionID)

	// Exactly one platform attempt, transaction finished, provider re-synced.
	require.Equal(t, 1, s.calls)
	require.Equal(t, []string{"native-1"}, s.finished)
	_, syncs := p.counts()
	require.Equal(t, 1, syncs)

	// Exactly one notification with the single transaction id.
	n.wait(t)
	require.Equal(t, 1, n.count())
}

func TestPurchase_Fallback_UnverifiedTransaction_Fails(t *testing.T) {
	p := &fakeProvider{offering: yearlyOffering(), purchaseErr: common.ErrStoreProblem}
	s := &fakeStore{tx: &storekit.Transaction{TransactionID: "native-1", Verified: false}}
	n := newFakeNotifier()
	c := newCoordinator(p, s, &fakeRefresher{}, n)

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.ErrorIs(t, err, common.ErrPurchaseFailed)
	require.Equal(t, StateFailed, res.State)
	require.Empty(t, s.finished)
	require.Equal(t, 0, n.count())
}

func TestPurchase_Fallback_NilTransaction_Fails(t *testing.T) {
	p := &fakeProvider{offering: yearlyOffering(), purchaseErr: common.ErrStoreProblem}
	s := &fakeStore{}
	n := newFakeNotifier()
	c := newCoordinator(p, s, &fakeRefresher{}, n)

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.ErrorIs(t, err, common.ErrPurchaseFailed)
	require.Equal(t, StateFailed, res.State)
	require.True(t, res.UsedFallback)
	require.Equal(t, 0, n.count())
}

func TestPurchase_Fallback_Cancelled(t *testing.T) {
	p := &fakeProvider{offering: yearlyOffering(), purchaseErr: common.ErrStoreProblem}
	s := &fakeStore{err: common.ErrUserCancelled}
	c := newCoordinator(p, s, &fakeRefresher{}, newFakeNotifier())

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, res.State)
	require.True(t, res.UsedFallback)
}

func TestPurchase_Fallback_SyncFailureStillSucceeds(t *testing.T) {
	p := &fakeProvider{
		offering:    yearlyOffering(),
		purchaseErr: common.ErrStoreProblem,
		syncErr:     errors.New("provider down"),
	}
	s := &fakeStore{tx: &storekit.Transaction{TransactionID: "native-2", Verified: true}}
	n := newFakeNotifier()
	c := newCoordinator(p, s, &fakeRefresher{}, n)

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
	n.wait(t)
}

func TestPurchase_SameProductConcurrently_Rejected(t *testing.T) {
	block := make(chan struct{})
	p := &fakeProvider{
		offering:        yearlyOffering(),
		purchaseOutcome: &provider.PurchaseOutcome{TransactionID: "tx-1"},
		block:           block,
	}
	n := newFakeNotifier()
	c := newCoordinator(p, &fakeStore{}, &fakeRefresher{}, n)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		calls, _ := p.counts()
		return calls == 1
	}, time.Second, time.Millisecond)

	_, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.ErrorIs(t, err, common.ErrPurchaseInFlight)

	close(block)
	<-done

	// After the first finishes, the product is purchasable again.
	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
}

func TestPurchaseCreditPack_Success(t *testing.T) {
	p := &fakeProvider{
		offering: &provider.Offering{
			Placement: "paywall_credits",
			Available: []provider.Offer{{ProductID: "credits_10"}},
		},
		purchaseOutcome: &provider.PurchaseOutcome{TransactionID: "tx-cp"},
	}
	n := newFakeNotifier()
	c := newCoordinator(p, &fakeStore{}, &fakeRefresher{}, n)

	res, err := c.PurchaseCreditPack(context.Background(), entitlement.CreditPacks[1])
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, res.State)
	require.Equal(t, entitlement.PurchaseTypeCreditPack, res.Transaction.PurchaseType)
	require.Equal(t, "credits_10", res.Transaction.ProductID)
}

func TestPurchase_ProviderOmitsTransactionID_GeneratesOne(t *testing.T) {
	p := &fakeProvider{
		offering:        yearlyOffering(),
		purchaseOutcome: &provider.PurchaseOutcome{},
	}
	c := newCoordinator(p, &fakeStore{}, &fakeRefresher{}, newFakeNotifier())

	res, err := c.Purchase(context.Background(), entitlement.TierPremiumYearly)
	require.NoError(t, err)
	require.NotEmpty(t, res.Transaction.TransactionID)
}
