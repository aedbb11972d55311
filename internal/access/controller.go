// Package access is the gate every paid action goes through. It composes the
// cached entitlement snapshot, the local free-quota tracker and the backend
// credit ledger into a single allow/deny decision, and performs the matching
// debit when the caller reports the action done.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/ledger"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/quota"
)

// Trigger selects which paywall surface to show.
type Trigger string

const (
	// TriggerCreditNeeded offers a credit pack or subscription after a denial.
	TriggerCreditNeeded Trigger = "credit_needed"
	// TriggerQueuePriority upsells priority processing when the free quota is
	// spent and the user wants to skip the free-tier queue.
	TriggerQueuePriority Trigger = "queue_priority"
	// TriggerUpsellAfterSuccess is fired by the caller after a successful
	// free-tier action, independent of any denial.
	TriggerUpsellAfterSuccess Trigger = "upsell_after_success"
)

// DenyReason says why access was refused.
type DenyReason string

const (
	DenyNone      DenyReason = ""
	DenyNoCredits DenyReason = "no_credits"
	// DenyQueueSkip is supplied by callers whose intent was skipping the
	// free-tier queue rather than running an ordinary paid action.
	DenyQueueSkip DenyReason = "queue_skip"
)

// Source records which authority granted access.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceFreeQuota    Source = "free_quota"
	SourceLedger       Source = "ledger"
)

// Decision is the outcome of a CheckAccess call.
type Decision struct {
	Allowed           bool
	Source            Source
	Reason            DenyReason
	CreditsRemaining  int
	FreeUsesRemaining int
}

// Entitlements is the slice of the cache the controller needs.
type Entitlements interface {
	Current() entitlement.Entitlement
	Refresh(ctx context.Context) (entitlement.Entitlement, error)
	ApplyCredits(remaining int)
	ApplyQuota(freeUses int, last *time.Time)
}

// Ledger is the slice of the backend client the controller needs.
type Ledger interface {
	CheckAccess(ctx context.Context, mode entitlement.Mode) (*ledger.AccessCheckResponse, error)
	UseCredit(ctx context.Context, mode entitlement.Mode) (*ledger.UseCreditResponse, error)
}

// Controller decides and debits. Consume calls are serialized so two
// concurrent consumers cannot both spend the same local free use.
type Controller struct {
	cache  Entitlements
	quota  quota.Tracker
	ledger Ledger
	log    logging.Logger

	consumeMu sync.Mutex
}

func NewController(cache Entitlements, tracker quota.Tracker, lc Ledger, log logging.Logger) *Controller {
	return &Controller{cache: cache, quota: tracker, ledger: lc, log: log}
}

// CheckAccess decides whether the user may run the given mode. An active
// subscription grants unconditionally. A free-tier user with local quota left
// is granted without a network call. Everything else is referred to the
// ledger, which is the authority; a ledger failure denies.
func (c *Controller) CheckAccess(ctx context.Context, mode entitlement.Mode) (Decision, error) {
	snap, err := c.cache.Refresh(ctx)
	if err != nil {
		// Stale data is acceptable here, the ledger below still gates.
		c.log.Debug(ctx, "entitlement refresh failed, using cached snapshot", "error", err)
		snap = c.cache.Current()
	}

	if snap.Active() {
		return Decision{
			Allowed:          true,
			Source:           SourceSubscription,
			CreditsRemaining: snap.CreditsRemaining,
		}, nil
	}

	if snap.Tier == entitlement.TierFree {
		st, qerr := c.quota.CurrentQuota(ctx)
		if qerr != nil {
			c.log.Warn(ctx, "free quota read failed, treating as exhausted", "error", qerr)
		} else if st.FreeUsesRemaining > 0 {
			return Decision{
				Allowed:           true,
				Source:            SourceFreeQuota,
				CreditsRemaining:  snap.CreditsRemaining,
				FreeUsesRemaining: st.FreeUsesRemaining,
			}, nil
		}
	}

	resp, err := c.ledger.CheckAccess(ctx, mode)
	if err != nil {
		return Decision{Source: SourceLedger, Reason: DenyNoCredits},
			fmt.Errorf("access check failed: %w", err)
	}

	c.cache.ApplyCredits(resp.RemainingCredits)

	d := Decision{
		Allowed:           resp.HasAccess,
		Source:            SourceLedger,
		CreditsRemaining:  resp.RemainingCredits,
		FreeUsesRemaining: resp.FreeUsesRemaining,
	}
	if !d.Allowed {
		d.Reason = DenyNoCredits
	}
	return d, nil
}

// Consume debits whichever pool covered the action. Subscribed users are not
// debited. Free-tier users with quota left spend it locally. Otherwise the
// ledger performs the atomic debit and the cache mirrors its response; a
// debit failure is returned as-is so the caller fails closed.
func (c *Controller) Consume(ctx context.Context, mode entitlement.Mode) error {
	c.consumeMu.Lock()
	defer c.consumeMu.Unlock()

	snap := c.cache.Current()
	if snap.Active() {
		return nil
	}

	if snap.Tier == entitlement.TierFree {
		st, err := c.quota.CurrentQuota(ctx)
		if err != nil {
			c.log.Warn(ctx, "free quota read failed, falling through to ledger", "error", err)
		} else if st.FreeUsesRemaining > 0 {
			after, err := c.quota.Consume(ctx)
			if err != nil {
				return fmt.Errorf("failed to consume free use: %w", err)
			}
			c.cache.ApplyQuota(after.FreeUsesRemaining, after.LastFreeUseDate)
			return nil
		}
	}

	resp, err := c.ledger.UseCredit(ctx, mode)
	if err != nil {
		return err
	}
	c.cache.ApplyCredits(resp.CreditsRemaining)
	return nil
}

// PaywallTrigger maps a denial reason to the paywall to show. Pure function
// of the reason; the post-success upsell is the caller's own trigger.
func PaywallTrigger(reason DenyReason) Trigger {
	if reason == DenyQueueSkip {
		return TriggerQueuePriority
	}
	return TriggerCreditNeeded
}
