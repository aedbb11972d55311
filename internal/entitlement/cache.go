package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/logging"
)

// The cache pulls from three independently failing sources. Each is a narrow
// interface so tests and the composition root can plug in whatever they have.

// TierSource reports the subscription tier of record (the entitlement
// provider, or the backend status endpoint as a stand-in).
type TierSource interface {
	SubscriptionStatus(ctx context.Context) (Tier, *time.Time, error)
}

// BalanceSource reports the authoritative credit balance (the ledger).
type BalanceSource interface {
	Balance(ctx context.Context) (int, error)
}

// QuotaSource reports the local daily free quota. No network.
type QuotaSource interface {
	Quota(ctx context.Context) (int, *time.Time, error)
}

// Cache holds the single in-memory Entitlement and publishes every change to
// subscribers. All mutation funnels through one lock, so a refresh can never
// interleave field-by-field with a credit update from a purchase: readers
// always observe a complete snapshot.
type Cache struct {
	mu      sync.Mutex
	current Entitlement
	subs    map[int]chan Entitlement
	nextSub int

	tiers    TierSource
	balances BalanceSource
	quotas   QuotaSource
	log      logging.Logger

	// refreshMu serializes refresh attempts. refreshCancel and lastRefresh
	// live under mu so Reset can abort an in-flight refresh without waiting
	// for it.
	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
	lastRefresh   time.Time // guarded by mu

	cooldown            time.Duration
	foregroundThreshold time.Duration
	now                 func() time.Time
}

const (
	// DefaultRefreshCooldown bounds how often Refresh actually hits the
	// network; calls inside the window return the cached snapshot.
	DefaultRefreshCooldown = 30 * time.Second

	// DefaultForegroundThreshold is the minimum background duration after
	// which a foreground event warrants a refresh.
	DefaultForegroundThreshold = 5 * time.Minute
)

type CacheOption func(*Cache)

func WithRefreshCooldown(d time.Duration) CacheOption {
	return func(c *Cache) { c.cooldown = d }
}

func WithForegroundThreshold(d time.Duration) CacheOption {
	return func(c *Cache) { c.foregroundThreshold = d }
}

// NewCache starts from the anonymous default entitlement.
func NewCache(tiers TierSource, balances BalanceSource, quotas QuotaSource, log logging.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		current:             Default(),
		subs:                make(map[int]chan Entitlement),
		tiers:               tiers,
		balances:            balances,
		quotas:              quotas,
		log:                 log,
		cooldown:            DefaultRefreshCooldown,
		foregroundThreshold: DefaultForegroundThreshold,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns a copy of the snapshot.
func (c *Cache) Current() Entitlement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe registers an observer. The channel holds the latest snapshot
// only: a slow consumer sees the newest state, not every intermediate one.
// Call the returned cancel func to unsubscribe.
func (c *Cache) Subscribe() (<-chan Entitlement, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Entitlement, 1)
	ch <- c.current
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// publish must be called with mu held.
func (c *Cache) publish() {
	c.current.Revision++
	for _, ch := range c.subs {
		select {
		case ch <- c.current:
		default:
			// Replace the stale pending snapshot with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c.current:
			default:
			}
		}
	}
}

// Refresh pulls tier, balance and quota concurrently and applies them in one
// atomic update. Calls inside the cooldown window are coalesced and return
// the cached snapshot. A failed source keeps its previous value: stale data
// never widens access because the ledger remains the authoritative gate.
func (c *Cache) Refresh(ctx context.Context) (Entitlement, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	cold := c.now().Sub(c.lastRefresh) >= c.cooldown
	c.mu.Unlock()

	if !cold {
		return c.Current(), nil
	}
	return c.refreshLocked(ctx)
}

// ForceRefresh bypasses the cooldown (purchase completion, pull-to-refresh).
func (c *Cache) ForceRefresh(ctx context.Context) (Entitlement, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

// RefreshAfterForeground refreshes only when the app spent at least the
// configured threshold in the background.
func (c *Cache) RefreshAfterForeground(ctx context.Context, backgroundedFor time.Duration) (Entitlement, error) {
	if backgroundedFor < c.foregroundThreshold {
		return c.Current(), nil
	}
	return c.Refresh(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) (Entitlement, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.refreshCancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.refreshCancel = nil
		c.mu.Unlock()
	}()

	var (
		wg sync.WaitGroup

		tier    Tier
		expiry  *time.Time
		tierErr error

		credits    int
		creditsErr error

		freeUses int
		lastUse  *time.Time
		quotaErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		tier, expiry, tierErr = c.tiers.SubscriptionStatus(ctx)
	}()
	go func() {
		defer wg.Done()
		credits, creditsErr = c.balances.Balance(ctx)
	}()
	go func() {
		defer wg.Done()
		freeUses, lastUse, quotaErr = c.quotas.Quota(ctx)
	}()
	wg.Wait()

	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		// Reset (or the caller) cancelled mid-flight; do not publish
		// partial state over a fresh snapshot.
		snapshot := c.current
		c.mu.Unlock()
		return snapshot, err
	}
	if tierErr != nil {
		c.log.Warn(ctx, "entitlement refresh: tier source failed, keeping previous", "err", tierErr)
	} else {
		c.current.Tier = tier
		c.current.SubscriptionExpiry = expiry
	}
	if creditsErr != nil {
		c.log.Warn(ctx, "entitlement refresh: balance fetch failed, keeping previous", "err", creditsErr)
	} else {
		c.current.CreditsRemaining = credits
	}
	if quotaErr != nil {
		c.log.Warn(ctx, "entitlement refresh: quota read failed, failing closed", "err", quotaErr)
		c.current.FreeUsesRemaining = 0
	} else {
		c.current.FreeUsesRemaining = freeUses
		c.current.LastFreeUseDate = lastUse
	}
	c.publish()
	snapshot := c.current
	c.lastRefresh = c.now()
	c.mu.Unlock()

	return snapshot, nil
}

// ApplyCredits records the authoritative balance returned by a ledger debit
// or purchase response.
func (c *Cache) ApplyCredits(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	c.current.CreditsRemaining = remaining
	c.publish()
}

// ApplyQuota records the tracker's state after a local consume.
func (c *Cache) ApplyQuota(freeUses int, last *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if freeUses < 0 {
		freeUses = 0
	}
	c.current.FreeUsesRemaining = freeUses
	c.current.LastFreeUseDate = last
	c.publish()
}

// Reset reverts to the anonymous default and cancels any in-flight refresh.
// No stale entitlement survives a user switch.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshCancel != nil {
		c.refreshCancel()
	}
	c.lastRefresh = time.Time{}
	rev := c.current.Revision
	c.current = Default()
	c.current.Revision = rev
	c.publish()
}
