// Package provider defines the contract with the purchase-management
// provider, the service of record for subscription and purchase state, and
// offer resolution on top of it.
package provider

import (
	"context"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

// Offer is one purchasable package inside an offering.
type Offer struct {
	ProductID    string
	Placement    string
	DisplayPrice string
}

// Offering groups the offers currently configured for a placement.
type Offering struct {
	Placement string
	Default   *Offer
	Available []Offer
}

// CustomerInfo is the provider's view of the signed-in customer, with the
// opaque record fields the backend wants echoed for audit.
type CustomerInfo struct {
	Tier               entitlement.Tier
	SubscriptionExpiry *time.Time
	OriginalAppUserID  string
	ManagementURL      string
	RawAttributes      map[string]string
}

// PurchaseOutcome reports one provider purchase call.
type PurchaseOutcome struct {
	Cancelled     bool
	Pending       bool
	TransactionID string
	CustomerInfo  *CustomerInfo
}

// Provider is the entitlement provider surface the engine consumes.
//
// Purchase failures in the provider's transient store-unreachable class are
// reported as common.ErrStoreProblem; only that class arms the platform
// purchase fallback.
type Provider interface {
	// Offerings returns the offering for the placement key, or the current
	// default offering when the placement is unknown.
	Offerings(ctx context.Context, placement string) (*Offering, error)

	// Purchase submits the offer through the provider.
	Purchase(ctx context.Context, offer Offer) (*PurchaseOutcome, error)

	// CustomerInfo fetches the current tier/expiry of record.
	CustomerInfo(ctx context.Context) (*CustomerInfo, error)

	// SyncPurchases re-synchronizes the provider from the platform's own
	// purchase record (used after a fallback purchase).
	SyncPurchases(ctx context.Context) (*CustomerInfo, error)
}

// ResolveOffer picks a purchasable offer for productID, falling back through:
// named placement → offering's default offer → any available offer. When
// nothing resolves it returns common.ErrOfferUnavailable.
func ResolveOffer(ctx context.Context, p Provider, placement, productID string) (*Offer, error) {
	offering, err := p.Offerings(ctx, placement)
	if err != nil {
		return nil, err
	}
	if offering == nil {
		return nil, common.ErrOfferUnavailable
	}

	for _, o := range offering.Available {
		if o.ProductID == productID {
			return &o, nil
		}
	}
	if offering.Default != nil {
		return offering.Default, nil
	}
	if len(offering.Available) > 0 {
		return &offering.Available[0], nil
	}
	return nil, common.ErrOfferUnavailable
}
