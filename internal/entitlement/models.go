// Package entitlement holds the engine's data model and the in-memory,
// observable snapshot of the user's current tier, credits and free quota.
package entitlement

import "time"

// Tier is the user's subscription level. Wire names match the backend
// contract; Free is the default and the terminal fallback.
type Tier string

const (
	TierFree           Tier = "free"
	TierPremiumMonthly Tier = "premium_monthly"
	TierPremiumYearly  Tier = "premium_yearly"
)

// ParseTier maps a wire value to a Tier, falling back to TierFree for
// anything unknown. Unknown tiers must never grant access.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPremiumMonthly:
		return TierPremiumMonthly
	case TierPremiumYearly:
		return TierPremiumYearly
	default:
		return TierFree
	}
}

// Mode identifies a paid processing feature.
type Mode string

const (
	ModeRestore   Mode = "restore"
	ModeMerge     Mode = "merge"
	ModeTimeline  Mode = "timeline"
	ModeCelebrity Mode = "celebrity"
	ModeReunite   Mode = "reunite"
	ModeFamily    Mode = "family"
)

// Modes lists every paid feature, in display order.
var Modes = []Mode{ModeRestore, ModeMerge, ModeTimeline, ModeCelebrity, ModeReunite, ModeFamily}

// DefaultCreditCosts is the hard-coded display cost per mode, used when the
// backend's credit-costs endpoint is unavailable. Display only: debit
// amounts are decided server-side.
var DefaultCreditCosts = map[Mode]int{
	ModeRestore:   1,
	ModeMerge:     2,
	ModeTimeline:  3,
	ModeCelebrity: 3,
	ModeReunite:   2,
	ModeFamily:    2,
}

// Entitlement is the authoritative in-memory snapshot of what the user may
// do right now. Mutated only through the Cache's single writer.
type Entitlement struct {
	Tier               Tier
	SubscriptionExpiry *time.Time
	CreditsRemaining   int
	FreeUsesRemaining  int
	LastFreeUseDate    *time.Time

	// Revision increases on every published snapshot so observers can
	// discard stale republishes.
	Revision uint64
}

// Active reports whether the user holds an active subscription. A known
// expiry in the past demotes the tier; an unknown expiry trusts the tier.
func (e Entitlement) Active() bool {
	if e.Tier == TierFree {
		return false
	}
	if e.SubscriptionExpiry != nil && e.SubscriptionExpiry.Before(time.Now()) {
		return false
	}
	return true
}

// Default returns the anonymous entitlement used at process start and after
// sign-out: free tier, no credits, one free use.
func Default() Entitlement {
	return Entitlement{
		Tier:              TierFree,
		CreditsRemaining:  0,
		FreeUsesRemaining: 1,
	}
}

// PurchaseType distinguishes the two purchasable product families.
type PurchaseType string

const (
	PurchaseTypeSubscription PurchaseType = "subscription"
	PurchaseTypeCreditPack   PurchaseType = "credit_pack"
)

// PurchaseTransaction is the record of a completed purchase, created by the
// coordinator and consumed exactly once by the backend notifier.
// TransactionID doubles as the idempotency key.
type PurchaseTransaction struct {
	ProductID     string            `json:"product_id"`
	TransactionID string            `json:"transaction_id"`
	PurchaseType  PurchaseType      `json:"purchase_type"`
	Timestamp     time.Time         `json:"timestamp"`
	ProviderData  map[string]string `json:"provider_data,omitempty"`
}

// CreditPack is a purchasable consumable credit bundle. The catalogue
// mirrors the backend's known product ids.
type CreditPack struct {
	ProductID string
	Credits   int
}

var CreditPacks = []CreditPack{
	{ProductID: "credits_5", Credits: 5},
	{ProductID: "credits_10", Credits: 10},
	{ProductID: "credits_25", Credits: 25},
	{ProductID: "credits_50", Credits: 50},
}

// FindCreditPack looks a pack up by product id.
func FindCreditPack(productID string) (CreditPack, bool) {
	for _, p := range CreditPacks {
		if p.ProductID == productID {
			return p, true
		}
	}
	return CreditPack{}, false
}
