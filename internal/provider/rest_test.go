package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

type noBridge struct{}

func (noBridge) Purchase(ctx context.Context, offer Offer) (*PurchaseOutcome, error) {
	return nil, common.ErrStoreProblem
}

func newRESTClient(t *testing.T, handler http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTClient(srv.URL, "api-key", "user-1", noBridge{})
}

func TestOfferings_PicksPlacementThenDefault(t *testing.T) {
	c := newRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscribers/user-1/offerings", r.URL.Path)
		require.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"current_offering_id": "default",
			"offerings": [
				{"identifier": "default", "packages": [
					{"identifier": "$rc_default", "platform_product_identifier": "premium_monthly"},
					{"identifier": "annual", "platform_product_identifier": "premium_yearly"}
				]},
				{"identifier": "paywall_yearly", "packages": [
					{"identifier": "annual", "platform_product_identifier": "premium_yearly"}
				]}
			]
		}`))
	}))

	ctx := context.Background()

	// Known placement returns that offering.
	off, err := c.Offerings(ctx, "paywall_yearly")
	require.NoError(t, err)
	require.Equal(t, "paywall_yearly", off.Placement)
	require.Len(t, off.Available, 1)
	require.Nil(t, off.Default)

	// Unknown placement falls back to the current offering with its default.
	off, err = c.Offerings(ctx, "nope")
	require.NoError(t, err)
	require.Equal(t, "default", off.Placement)
	require.NotNil(t, off.Default)
	require.Equal(t, "premium_monthly", off.Default.ProductID)
}

func TestCustomerInfo_PicksLiveEntitlement(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)

	c := newRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscribers/user-1", r.URL.Path)
		w.Write([]byte(`{"subscriber": {
			"original_app_user_id": "user-1",
			"entitlements": {
				"old": {"product_identifier": "premium_monthly", "expires_date": "` + past + `"},
				"live": {"product_identifier": "premium_yearly", "expires_date": "` + future + `"}
			}
		}}`))
	}))

	info, err := c.CustomerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, entitlement.TierPremiumYearly, info.Tier)
	require.NotNil(t, info.SubscriptionExpiry)
}

func TestCustomerInfo_NoEntitlements_Free(t *testing.T) {
	c := newRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subscriber": {"original_app_user_id": "user-1", "entitlements": {}}}`))
	}))

	info, err := c.CustomerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, entitlement.TierFree, info.Tier)
	require.Nil(t, info.SubscriptionExpiry)
}

func TestSyncPurchases_PostsAndDecodes(t *testing.T) {
	var method, path string
	c := newRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.Write([]byte(`{"subscriber": {"original_app_user_id": "user-1", "entitlements": {}}}`))
	}))

	_, err := c.SyncPurchases(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "/v1/subscribers/user-1/sync_purchases", path)
}

func TestResolveOffer_FallbackChain(t *testing.T) {
	mk := func(off *Offering, err error) Provider {
		return fakeProvider{offering: off, err: err}
	}

	ctx := context.Background()

	// Product found among available offers.
	off, err := ResolveOffer(ctx, mk(&Offering{
		Available: []Offer{{ProductID: "a"}, {ProductID: "b"}},
	}, nil), "p", "b")
	require.NoError(t, err)
	require.Equal(t, "b", off.ProductID)

	// Product missing: default wins.
	off, err = ResolveOffer(ctx, mk(&Offering{
		Default:   &Offer{ProductID: "d"},
		Available: []Offer{{ProductID: "a"}},
	}, nil), "p", "zzz")
	require.NoError(t, err)
	require.Equal(t, "d", off.ProductID)

	// No default: any available offer.
	off, err = ResolveOffer(ctx, mk(&Offering{
		Available: []Offer{{ProductID: "a"}},
	}, nil), "p", "zzz")
	require.NoError(t, err)
	require.Equal(t, "a", off.ProductID)

	// Nothing at all.
	_, err = ResolveOffer(ctx, mk(&Offering{}, nil), "p", "zzz")
	require.ErrorIs(t, err, common.ErrOfferUnavailable)
}

type fakeProvider struct {
	offering *Offering
	err      error
}

func (f fakeProvider) Offerings(ctx context.Context, placement string) (*Offering, error) {
	return f.offering, f.err
}
func (f fakeProvider) Purchase(ctx context.Context, offer Offer) (*PurchaseOutcome, error) {
	return nil, common.ErrStoreProblem
}
func (f fakeProvider) CustomerInfo(ctx context.Context) (*CustomerInfo, error) {
	return &CustomerInfo{Tier: entitlement.TierFree}, nil
}
func (f fakeProvider) SyncPurchases(ctx context.Context) (*CustomerInfo, error) {
	return &CustomerInfo{Tier: entitlement.TierFree}, nil
}
