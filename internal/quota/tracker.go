// Package quota owns the locally persisted daily free-use counter. It is the
// only entitlement source with no network: one free action per calendar day
// (device-local timezone), reset lazily on read.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/repositories/metadata"
)

const (
	keyFreeUses    = "quota.free_uses_remaining"
	keyLastFreeUse = "quota.last_free_use_date"

	// DailyFreeUses is the allowance granted each new day.
	DailyFreeUses = 1

	dateLayout = "2006-01-02"
)

// State is the tracker's current view: uses left today plus the stamp of the
// last consumption, nil until a use is consumed today.
type State struct {
	FreeUsesRemaining int
	LastFreeUseDate   *time.Time
}

// Tracker persists the daily free-use counter in the local key-value store.
//
// Storage errors are never allowed to grant access: on any read/write
// failure the tracker reports zero remaining uses alongside the error.
type Tracker interface {
	// CurrentQuota returns today's state, resetting the counter if the last
	// recorded use was on an earlier day.
	CurrentQuota(ctx context.Context) (State, error)

	// Consume decrements the counter (floored at zero) and stamps today.
	Consume(ctx context.Context) (State, error)

	// Reset clears all quota state (sign-out).
	Reset(ctx context.Context) error
}

type tracker struct {
	repo metadata.Repository
	now  func() time.Time
}

// NewTracker builds a Tracker over the given key-value repository.
func NewTracker(repo metadata.Repository) Tracker {
	return &tracker{repo: repo, now: time.Now}
}

func (t *tracker) CurrentQuota(ctx context.Context) (State, error) {
	return t.load(ctx)
}

func (t *tracker) Consume(ctx context.Context) (State, error) {
	st, err := t.load(ctx)
	if err != nil {
		return State{}, err
	}

	if st.FreeUsesRemaining > 0 {
		st.FreeUsesRemaining--
	}
	now := t.now()
	st.LastFreeUseDate = &now

	if err := t.repo.Set(ctx, keyFreeUses, []byte(strconv.Itoa(st.FreeUsesRemaining))); err != nil {
		return State{}, fmt.Errorf("failed to persist free uses: %w", err)
	}
	if err := t.repo.Set(ctx, keyLastFreeUse, []byte(now.Format(dateLayout))); err != nil {
		return State{}, fmt.Errorf("failed to persist last free use date: %w", err)
	}
	return st, nil
}

func (t *tracker) Reset(ctx context.Context) error {
	if err := t.repo.Delete(ctx, keyFreeUses); err != nil {
		return err
	}
	return t.repo.Delete(ctx, keyLastFreeUse)
}

// load reads the persisted state and applies the lazy daily reset: if the
// last use is absent or on an earlier calendar day, today's allowance is
// granted and the stamp cleared until the next Consume.
func (t *tracker) load(ctx context.Context) (State, error) {
	lastRaw, err := t.repo.Get(ctx, keyLastFreeUse)
	if err != nil {
		return State{}, fmt.Errorf("failed to read last free use date: %w", err)
	}

	today := t.now().Format(dateLayout)

	if lastRaw == nil || string(lastRaw) != today {
		// New day (or first run): full allowance, no stamp yet.
		return State{FreeUsesRemaining: DailyFreeUses}, nil
	}

	usesRaw, err := t.repo.Get(ctx, keyFreeUses)
	if err != nil {
		return State{}, fmt.Errorf("failed to read free uses: %w", err)
	}

	uses := 0
	if usesRaw != nil {
		uses, err = strconv.Atoi(string(usesRaw))
		if err != nil || uses < 0 {
			uses = 0
		}
	}

	last, err := time.ParseInLocation(dateLayout, string(lastRaw), time.Local)
	if err != nil {
		return State{FreeUsesRemaining: uses}, nil
	}
	return State{FreeUsesRemaining: uses, LastFreeUseDate: &last}, nil
}
