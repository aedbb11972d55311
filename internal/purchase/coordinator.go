// Package purchase drives a purchase attempt through the entitlement
// provider, with a bounded single-attempt fallback to the platform's native
// purchase API for the provider's transient store-unreachable failure class.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/provider"
	"github.com/zadahmed/everwith-entitlements/internal/storekit"
)

// State models one purchase attempt. Succeeded, Cancelled and Failed are
// terminal; FailedRetryableViaFallback re-enters Submitting exactly once on
// the fallback path.
type State string

const (
	StateIdle                       State = "idle"
	StateSubmitting                 State = "submitting"
	StateSucceeded                  State = "succeeded"
	StateCancelled                  State = "cancelled"
	StateFailed                     State = "failed"
	StateFailedRetryableViaFallback State = "failed_retryable_via_fallback"

	// StatePending reports a purchase parked on external approval. Not a
	// failure: the store finishes it out-of-band and a later refresh or
	// restore picks it up.
	StatePending State = "pending"
)

// Result reports the outcome of one purchase attempt.
type Result struct {
	State        State
	Transaction  *entitlement.PurchaseTransaction
	UsedFallback bool
}

// Notifier receives completed purchase transactions for backend delivery.
type Notifier interface {
	Notify(ctx context.Context, tx entitlement.PurchaseTransaction) error
}

// Refresher is the slice of the entitlement cache the coordinator needs.
type Refresher interface {
	ForceRefresh(ctx context.Context) (entitlement.Entitlement, error)
}

// Coordinator serializes purchases per product and owns the
// provider-then-platform fallback sequencing.
type Coordinator struct {
	provider provider.Provider
	store    storekit.Store
	cache    Refresher
	notifier Notifier
	log      logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	notifyTimeout time.Duration
}

type Option func(*Coordinator)

// WithNotifyTimeout bounds the detached backend notification call.
func WithNotifyTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.notifyTimeout = d }
}

func NewCoordinator(p provider.Provider, store storekit.Store, cache Refresher, n Notifier, log logging.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:      p,
		store:         store,
		cache:         cache,
		notifier:      n,
		log:           log,
		inFlight:      make(map[string]struct{}),
		notifyTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// placement keys the paywall configuration per product family.
const (
	placementSubscription = "paywall_premium"
	placementCredits      = "paywall_credits"
)

// Purchase buys the subscription tier. Free is not purchasable.
func (c *Coordinator) Purchase(ctx context.Context, tier entitlement.Tier) (*Result, error) {
	if tier == entitlement.TierFree {
		return nil, fmt.Errorf("tier %q: %w", tier, common.ErrOfferUnavailable)
	}
	return c.run(ctx, placementSubscription, string(tier), entitlement.PurchaseTypeSubscription)
}

// PurchaseCreditPack buys a consumable credit bundle.
func (c *Coordinator) PurchaseCreditPack(ctx context.Context, pack entitlement.CreditPack) (*Result, error) {
	return c.run(ctx, placementCredits, pack.ProductID, entitlement.PurchaseTypeCreditPack)
}

func (c *Coordinator) run(ctx context.Context, placement, productID string, purchaseType entitlement.PurchaseType) (*Result, error) {
	if !c.begin(productID) {
		return nil, fmt.Errorf("product %q: %w", productID, common.ErrPurchaseInFlight)
	}
	defer c.end(productID)

	offer, err := provider.ResolveOffer(ctx, c.provider, placement, productID)
	if err != nil {
		if errors.Is(err, common.ErrOfferUnavailable) {
			return &Result{State: StateFailed}, err
		}
		return &Result{State: StateFailed}, fmt.Errorf("offer resolution: %w", err)
	}

	c.log.Info(ctx, "purchase submitting", "product", offer.ProductID, "placement", placement)

	outcome, err := c.provider.Purchase(ctx, *offer)
	switch {
	case err == nil && outcome != nil && outcome.Cancelled:
		// User backing out is not an error.
		c.log.Info(ctx, "purchase cancelled by user", "product", offer.ProductID)
		return &Result{State: StateCancelled}, nil

	case err == nil && outcome != nil && outcome.Pending:
		c.log.Info(ctx, "purchase pending external approval", "product", offer.ProductID)
		return &Result{State: StatePending}, common.ErrPurchasePending

	case err == nil:
		tx := c.transactionFrom(outcome, offer.ProductID, purchaseType)
		c.complete(ctx, tx, false)
		return &Result{State: StateSucceeded, Transaction: &tx}, nil

	case errors.Is(err, common.ErrUserCancelled):
		c.log.Info(ctx, "purchase cancelled by user", "product", offer.ProductID)
		return &Result{State: StateCancelled}, nil

	case errors.Is(err, common.ErrPurchasePending):
		return &Result{State: StatePending}, common.ErrPurchasePending

	case errors.Is(err, common.ErrStoreProblem):
		// Only this one transient class arms the platform fallback; any
		// other failure stays terminal so we can never double-charge.
		c.log.Warn(ctx, "provider store problem, falling back to platform purchase",
			"product", offer.ProductID, "err", err)
		return c.fallback(ctx, offer.ProductID, purchaseType)

	default:
		c.log.Error(ctx, "purchase failed", "product", offer.ProductID, "err", err)
		return &Result{State: StateFailed}, fmt.Errorf("%w: %w", common.ErrPurchaseFailed, err)
	}
}

// fallback performs the single bounded platform-store attempt: purchase
// natively, verify, finish, then re-synchronize the provider from the
// platform's record instead of inventing parallel entitlement state.
func (c *Coordinator) fallback(ctx context.Context, productID string, purchaseType entitlement.PurchaseType) (*Result, error) {
	tx, err := c.store.Purchase(ctx, productID)
	switch {
	case errors.Is(err, common.ErrUserCancelled):
		return &Result{State: StateCancelled, UsedFallback: true}, nil
	case errors.Is(err, common.ErrPurchasePending):
		return &Result{State: StatePending, UsedFallback: true}, common.ErrPurchasePending
	case err != nil:
		c.log.Error(ctx, "fallback purchase failed", "product", productID, "err", err)
		return &Result{State: StateFailed, UsedFallback: true}, fmt.Errorf("%w: fallback: %w", common.ErrPurchaseFailed, err)
	}

	if tx == nil {
		c.log.Error(ctx, "fallback purchase returned no transaction", "product", productID)
		return &Result{State: StateFailed, UsedFallback: true},
			fmt.Errorf("%w: store returned no transaction", common.ErrPurchaseFailed)
	}

	if !tx.Verified {
		c.log.Error(ctx, "fallback transaction failed verification", "product", productID, "tx", tx.TransactionID)
		return &Result{State: StateFailed, UsedFallback: true},
			fmt.Errorf("%w: unverified platform transaction", common.ErrPurchaseFailed)
	}

	if err := c.store.Finish(ctx, tx); err != nil {
		// The entitlement exists on the store side; surface the finish
		// problem but do not pretend the purchase failed.
		c.log.Error(ctx, "failed to finish platform transaction", "tx", tx.TransactionID, "err", err)
		return &Result{State: StateFailed, UsedFallback: true},
			fmt.Errorf("%w: %w", common.ErrTransactionFinish, err)
	}

	if _, err := c.provider.SyncPurchases(ctx); err != nil {
		// Provider will converge on its next sync; the purchase itself
		// succeeded, so keep going.
		c.log.Warn(ctx, "provider re-sync after fallback failed", "tx", tx.TransactionID, "err", err)
	}

	out := entitlement.PurchaseTransaction{
		ProductID:     tx.ProductID,
		TransactionID: tx.TransactionID,
		PurchaseType:  purchaseType,
		Timestamp:     tx.PurchaseDate,
		ProviderData:  map[string]string{"path": "platform_fallback"},
	}
	c.complete(ctx, out, true)
	return &Result{State: StateSucceeded, Transaction: &out, UsedFallback: true}, nil
}

// complete refreshes the cache synchronously (the caller's success path
// wants fresh state) and hands the transaction to the notifier detached:
// backend bookkeeping must never block or reverse a granted purchase.
func (c *Coordinator) complete(ctx context.Context, tx entitlement.PurchaseTransaction, viaFallback bool) {
	if _, err := c.cache.ForceRefresh(ctx); err != nil {
		c.log.Warn(ctx, "entitlement refresh after purchase failed", "tx", tx.TransactionID, "err", err)
	}

	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(nctx, tx); err != nil {
			c.log.Error(nctx, "backend purchase notification failed, left for retry",
				"tx", tx.TransactionID, "fallback", viaFallback, "err", err)
		}
	}()
}

func (c *Coordinator) transactionFrom(outcome *provider.PurchaseOutcome, productID string, purchaseType entitlement.PurchaseType) entitlement.PurchaseTransaction {
	id := outcome.TransactionID
	if id == "" {
		id = uuid.NewString()
	}
	tx := entitlement.PurchaseTransaction{
		ProductID:     productID,
		TransactionID: id,
		PurchaseType:  purchaseType,
		Timestamp:     time.Now().UTC(),
	}
	if outcome.CustomerInfo != nil {
		tx.ProviderData = outcome.CustomerInfo.RawAttributes
	}
	return tx
}

// begin registers productID as in flight; a second concurrent attempt for
// the same product is rejected, never run in parallel.
func (c *Coordinator) begin(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[productID]; busy {
		return false
	}
	c.inFlight[productID] = struct{}{}
	return true
}

func (c *Coordinator) end(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, productID)
}
