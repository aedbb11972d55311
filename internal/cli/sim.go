package cli

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/provider"
	"github.com/zadahmed/everwith-entitlements/internal/storekit"
)

// simStore is an auto-approving stand-in for the platform purchase API. It
// doubles as the provider's purchase bridge so the demo works without store
// credentials.
type simStore struct {
	mu        sync.Mutex
	purchased []string
}

func newSimStore() *simStore {
	return &simStore{}
}

func (s *simStore) Purchase(ctx context.Context, productID string) (*storekit.Transaction, error) {
	s.mu.Lock()
	s.purchased = append(s.purchased, productID)
	s.mu.Unlock()

	return &storekit.Transaction{
		ProductID:     productID,
		TransactionID: uuid.NewString(),
		PurchaseDate:  time.Now(),
		Verified:      true,
	}, nil
}

func (s *simStore) Finish(ctx context.Context, tx *storekit.Transaction) error {
	return nil
}

func (s *simStore) products() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.purchased...)
}

// simBridge adapts the simulated store to the provider's purchase bridge,
// standing in for the platform-native provider SDK.
type simBridge struct {
	store *simStore
}

func (b simBridge) Purchase(ctx context.Context, offer provider.Offer) (*provider.PurchaseOutcome, error) {
	tx, err := b.store.Purchase(ctx, offer.ProductID)
	if err != nil {
		return nil, err
	}
	return &provider.PurchaseOutcome{TransactionID: tx.TransactionID}, nil
}

// simProvider is an in-memory entitlement provider for the demo. Purchases
// run through the simulated store and immediately grant the matching tier.
type simProvider struct {
	store *simStore

	mu     sync.Mutex
	tier   entitlement.Tier
	expiry *time.Time
}

func newSimProvider(store *simStore) *simProvider {
	return &simProvider{store: store, tier: entitlement.TierFree}
}

func (p *simProvider) Offerings(ctx context.Context, placement string) (*provider.Offering, error) {
	switch placement {
	case "paywall_credits":
		out := &provider.Offering{Placement: placement}
		for _, pack := range entitlement.CreditPacks {
			out.Available = append(out.Available, provider.Offer{ProductID: pack.ProductID, Placement: placement})
		}
		d := out.Available[1]
		out.Default = &d
		return out, nil
	default:
		yearly := provider.Offer{ProductID: string(entitlement.TierPremiumYearly), Placement: "paywall_premium", DisplayPrice: "$59.99"}
		monthly := provider.Offer{ProductID: string(entitlement.TierPremiumMonthly), Placement: "paywall_premium", DisplayPrice: "$7.99"}
		return &provider.Offering{
			Placement: "paywall_premium",
			Default:   &yearly,
			Available: []provider.Offer{yearly, monthly},
		}, nil
	}
}

func (p *simProvider) Purchase(ctx context.Context, offer provider.Offer) (*provider.PurchaseOutcome, error) {
	tx, err := p.store.Purchase(ctx, offer.ProductID)
	if err != nil {
		return nil, err
	}
	p.adopt(offer.ProductID)

	info, _ := p.CustomerInfo(ctx)
	return &provider.PurchaseOutcome{TransactionID: tx.TransactionID, CustomerInfo: info}, nil
}

func (p *simProvider) CustomerInfo(ctx context.Context) (*provider.CustomerInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &provider.CustomerInfo{Tier: p.tier, SubscriptionExpiry: p.expiry}, nil
}

func (p *simProvider) SyncPurchases(ctx context.Context) (*provider.CustomerInfo, error) {
	for _, productID := range p.store.products() {
		p.adopt(productID)
	}
	return p.CustomerInfo(ctx)
}

func (p *simProvider) adopt(productID string) {
	if !strings.HasPrefix(productID, "premium_") {
		return
	}
	tier := entitlement.ParseTier(productID)
	if tier == entitlement.TierFree {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tier == entitlement.TierPremiumYearly && tier == entitlement.TierPremiumMonthly {
		return
	}
	p.tier = tier
	period := 30 * 24 * time.Hour
	if tier == entitlement.TierPremiumYearly {
		period = 365 * 24 * time.Hour
	}
	exp := time.Now().Add(period)
	p.expiry = &exp
}
