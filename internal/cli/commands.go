package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/access"
	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/pipeline"
	"github.com/zadahmed/everwith-entitlements/internal/purchase"
)

// Login prompts for a session token (no echo) and installs it.
func (a *App) Login(ctx context.Context) {
	token, err := GetToken(os.Stdout)
	if err != nil {
		fmt.Println("Error reading token:", err)
		return
	}
	if token == "" {
		fmt.Println("Empty token, not signed in")
		return
	}

	if err := a.engine.SignIn(ctx, token); err != nil {
		fmt.Println("Sign-in failed:", err)
		return
	}
	fmt.Println("Signed in")
	a.Status(ctx)
}

func (a *App) Logout(ctx context.Context) {
	if err := a.engine.SignOut(ctx); err != nil {
		fmt.Println("Sign-out failed:", err)
		return
	}
	fmt.Println("Signed out")
}

// Status prints the current entitlement snapshot.
func (a *App) Status(ctx context.Context) {
	snap := a.engine.Cache.Current()

	fmt.Printf("Tier: %s", snap.Tier)
	if snap.SubscriptionExpiry != nil {
		fmt.Printf(" (expires %s)", snap.SubscriptionExpiry.Format("2006-01-02"))
	}
	fmt.Println()
	fmt.Printf("Credits remaining: %d\n", snap.CreditsRemaining)
	fmt.Printf("Free uses remaining today: %d\n", snap.FreeUsesRemaining)
}

// Costs prints the per-mode credit price list.
func (a *App) Costs(ctx context.Context) {
	costs, err := a.engine.Ledger.FetchCreditCosts(ctx)
	if err != nil {
		fmt.Println("Using built-in prices, backend unavailable:", err)
		costs = entitlement.DefaultCreditCosts
	}
	for _, mode := range entitlement.Modes {
		fmt.Printf("  %-10s %d credits\n", mode, costs[mode])
	}
}

// Check runs an access check for the mode and reports the decision.
func (a *App) Check(ctx context.Context, rawMode string) {
	mode, ok := parseMode(rawMode)
	if !ok {
		fmt.Println("Unknown mode:", rawMode)
		return
	}

	d, err := a.engine.Access.CheckAccess(ctx, mode)
	if err != nil {
		fmt.Println("Access not confirmed:", err)
		return
	}
	if d.Allowed {
		fmt.Printf("Access granted (%s)\n", d.Source)
		return
	}
	fmt.Printf("Access denied; paywall: %s\n", access.PaywallTrigger(d.Reason))
}

// Process runs the full gated flow: check access, submit the job, wait for
// the result, then consume the use. An empty imageURL is prompted for
// interactively.
func (a *App) Process(ctx context.Context, rawMode, imageURL string) {
	mode, ok := parseMode(rawMode)
	if !ok {
		fmt.Println("Unknown mode:", rawMode)
		return
	}

	if imageURL == "" {
		imageURL = a.promptImageURL()
	}
	if imageURL == "" {
		fmt.Println("No image URL given")
		return
	}

	d, err := a.engine.Access.CheckAccess(ctx, mode)
	if err != nil {
		fmt.Println("Access not confirmed:", err)
		return
	}
	if !d.Allowed {
		fmt.Printf("Access denied; paywall: %s\n", access.PaywallTrigger(d.Reason))
		return
	}

	job, err := a.engine.Pipeline.Submit(ctx, mode, imageURL)
	if err != nil {
		fmt.Println("Failed to submit job:", err)
		return
	}
	fmt.Println("Submitted job", job.ID)

	job, err = pipeline.Wait(ctx, a.engine.Pipeline, job.ID, 2*time.Second)
	if err != nil {
		fmt.Println("Failed waiting for job:", err)
		return
	}
	if job.Status != pipeline.StatusCompleted {
		fmt.Println("Job failed:", job.Error)
		return
	}

	if err := a.engine.Access.Consume(ctx, mode); err != nil {
		fmt.Println("Warning: debit failed:", err)
	}
	fmt.Println("Result:", job.ResultURL)
}

// Buy purchases a subscription tier.
func (a *App) Buy(ctx context.Context, rawTier string) {
	tier := entitlement.ParseTier(rawTier)
	if tier == entitlement.TierFree {
		fmt.Println("Unknown tier:", rawTier)
		return
	}

	res, err := a.engine.Purchases.Purchase(ctx, tier)
	a.reportPurchase(res, err)
}

// BuyPack purchases a consumable credit pack.
func (a *App) BuyPack(ctx context.Context, productID string) {
	for _, pack := range entitlement.CreditPacks {
		if pack.ProductID == productID {
			res, err := a.engine.Purchases.PurchaseCreditPack(ctx, pack)
			a.reportPurchase(res, err)
			return
		}
	}
	fmt.Println("Unknown credit pack:", productID)
}

func (a *App) reportPurchase(res *purchase.Result, err error) {
	switch {
	case err == nil && res.State == purchase.StateSucceeded:
		fmt.Println("Purchase complete")
		if res.UsedFallback {
			fmt.Println("(completed via the platform store fallback)")
		}
	case res != nil && res.State == purchase.StateCancelled:
		fmt.Println("Purchase cancelled")
	case errors.Is(err, common.ErrPurchasePending):
		fmt.Println("Purchase pending external approval")
	case errors.Is(err, common.ErrPurchaseInFlight):
		fmt.Println("A purchase for this product is already in progress")
	case errors.Is(err, common.ErrOfferUnavailable):
		fmt.Println("No purchasable offer is configured for this product")
	default:
		fmt.Println("Purchase failed:", err)
	}
}

// Restore re-synchronizes the provider from the platform's purchase record.
func (a *App) Restore(ctx context.Context) {
	info, err := a.engine.Provider.SyncPurchases(ctx)
	if err != nil {
		fmt.Println("Restore failed:", err)
		return
	}
	fmt.Println("Restored tier:", info.Tier)

	if _, err := a.engine.Cache.ForceRefresh(ctx); err != nil {
		fmt.Println("Refresh failed:", err)
	}
	a.Status(ctx)
}

// Refresh pulls a fresh snapshot, bypassing the cooldown.
func (a *App) Refresh(ctx context.Context) {
	if _, err := a.engine.Cache.ForceRefresh(ctx); err != nil {
		fmt.Println("Refresh failed:", err)
		return
	}
	a.Status(ctx)
}

// promptImageURL asks for the source image when the command line omitted it.
func (a *App) promptImageURL() string {
	url, err := GetSimpleText(a.reader, "Enter image URL", os.Stdout)
	if err != nil {
		return ""
	}
	return url
}

func parseMode(s string) (entitlement.Mode, bool) {
	for _, mode := range entitlement.Modes {
		if string(mode) == s {
			return mode, true
		}
	}
	return "", false
}
