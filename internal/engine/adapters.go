package engine

import (
	"context"
	"sync"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/ledger"
	"github.com/zadahmed/everwith-entitlements/internal/provider"
	"github.com/zadahmed/everwith-entitlements/internal/quota"
)

// sessionTokens is the mutable ledger.TokenSource behind the engine. The
// expiry fail-fast lives in ledger.StaticTokenSource; this just swaps the
// token under a lock on sign-in and sign-out.
type sessionTokens struct {
	mu     sync.Mutex
	token  string
	userID string
}

func (s *sessionTokens) Token(ctx context.Context) (string, error) {
	return ledger.NewStaticTokenSource(s.get()).Token(ctx)
}

func (s *sessionTokens) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *sessionTokens) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *sessionTokens) set(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.userID = userID
}

func (s *sessionTokens) clear() {
	s.set("", "")
}

// providerTiers sources the tier of record from the entitlement provider.
type providerTiers struct {
	p provider.Provider
}

func (a providerTiers) SubscriptionStatus(ctx context.Context) (entitlement.Tier, *time.Time, error) {
	info, err := a.p.CustomerInfo(ctx)
	if err != nil {
		return entitlement.TierFree, nil, err
	}
	return info.Tier, info.SubscriptionExpiry, nil
}

// statusTiers sources the tier from the backend status endpoint, used when
// no provider binding is configured.
type statusTiers struct {
	lc ledger.Client
}

func (a statusTiers) SubscriptionStatus(ctx context.Context) (entitlement.Tier, *time.Time, error) {
	resp, err := a.lc.FetchStatus(ctx)
	if err != nil {
		return entitlement.TierFree, nil, err
	}
	if !resp.IsActive {
		return entitlement.TierFree, nil, nil
	}
	return entitlement.ParseTier(resp.Tier), resp.EndDate, nil
}

// ledgerBalance sources the credit balance from the backend ledger.
type ledgerBalance struct {
	lc ledger.Client
}

func (a ledgerBalance) Balance(ctx context.Context) (int, error) {
	resp, err := a.lc.FetchBalance(ctx)
	if err != nil {
		return 0, err
	}
	return resp.CreditsRemaining, nil
}

// trackerQuota sources the daily free quota from the local tracker.
type trackerQuota struct {
	t quota.Tracker
}

func (a trackerQuota) Quota(ctx context.Context) (int, *time.Time, error) {
	st, err := a.t.CurrentQuota(ctx)
	if err != nil {
		return 0, nil, err
	}
	return st.FreeUsesRemaining, st.LastFreeUseDate, nil
}

// backendNotify hands completed purchases to a notifier bound to whichever
// user is signed in at delivery time.
type backendNotify struct {
	e *Engine
}

func (a backendNotify) Notify(ctx context.Context, tx entitlement.PurchaseTransaction) error {
	return a.e.notifier().Notify(ctx, tx)
}
