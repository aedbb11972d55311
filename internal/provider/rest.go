package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

// PurchaseBridge submits a purchase through the platform-native provider
// SDK. The REST surface below covers reads and receipt sync; the actual
// store sheet can only be driven by the host platform.
type PurchaseBridge interface {
	Purchase(ctx context.Context, offer Offer) (*PurchaseOutcome, error)
}

// RESTClient talks to the provider's subscriber API for reads and receipt
// synchronization and delegates purchase submission to the bridge.
type RESTClient struct {
	baseURL   string
	apiKey    string
	appUserID string
	http      *http.Client
	bridge    PurchaseBridge
}

func NewRESTClient(baseURL, apiKey, appUserID string, bridge PurchaseBridge) *RESTClient {
	return &RESTClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		appUserID: appUserID,
		http:      &http.Client{Timeout: 12 * time.Second},
		bridge:    bridge,
	}
}

type offeringsResponse struct {
	CurrentOfferingID string `json:"current_offering_id"`
	Offerings         []struct {
		Identifier string `json:"identifier"`
		Packages   []struct {
			Identifier string `json:"identifier"`
			ProductID  string `json:"platform_product_identifier"`
		} `json:"packages"`
	} `json:"offerings"`
}

type subscriberResponse struct {
	Subscriber struct {
		OriginalAppUserID string `json:"original_app_user_id"`
		ManagementURL     string `json:"management_url"`
		Entitlements      map[string]struct {
			ProductIdentifier string     `json:"product_identifier"`
			ExpiresDate       *time.Time `json:"expires_date"`
		} `json:"entitlements"`
	} `json:"subscriber"`
}

func (c *RESTClient) Offerings(ctx context.Context, placement string) (*Offering, error) {
	var resp offeringsResponse
	if err := c.get(ctx, "/v1/subscribers/"+c.appUserID+"/offerings", &resp); err != nil {
		return nil, err
	}

	pick := placement
	found := false
	for _, o := range resp.Offerings {
		if o.Identifier == pick {
			found = true
			break
		}
	}
	if !found {
		pick = resp.CurrentOfferingID
	}

	for _, o := range resp.Offerings {
		if o.Identifier != pick {
			continue
		}
		out := &Offering{Placement: o.Identifier}
		for _, p := range o.Packages {
			offer := Offer{ProductID: p.ProductID, Placement: o.Identifier}
			out.Available = append(out.Available, offer)
			if p.Identifier == "$rc_default" && out.Default == nil {
				d := offer
				out.Default = &d
			}
		}
		return out, nil
	}
	return nil, common.ErrOfferUnavailable
}

func (c *RESTClient) Purchase(ctx context.Context, offer Offer) (*PurchaseOutcome, error) {
	return c.bridge.Purchase(ctx, offer)
}

func (c *RESTClient) CustomerInfo(ctx context.Context) (*CustomerInfo, error) {
	var resp subscriberResponse
	if err := c.get(ctx, "/v1/subscribers/"+c.appUserID, &resp); err != nil {
		return nil, err
	}
	return customerInfoFrom(resp), nil
}

// SyncPurchases asks the provider to re-read the platform receipt so its
// record matches what the store already granted.
func (c *RESTClient) SyncPurchases(ctx context.Context) (*CustomerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/subscribers/"+c.appUserID+"/sync_purchases", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sync purchases: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync purchases: unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var sub subscriberResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscriber: %w", err)
	}
	return customerInfoFrom(sub), nil
}

func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", common.ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s: unexpected status %d: %s", path, resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RESTClient) authorize(req *http.Request) {
	req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// customerInfoFrom reduces the subscriber record to the engine's view: the
// highest live entitlement wins; everything else falls back to free.
func customerInfoFrom(resp subscriberResponse) *CustomerInfo {
	info := &CustomerInfo{
		Tier:              entitlement.TierFree,
		OriginalAppUserID: resp.Subscriber.OriginalAppUserID,
		ManagementURL:     resp.Subscriber.ManagementURL,
		RawAttributes: map[string]string{
			"original_app_user_id": resp.Subscriber.OriginalAppUserID,
		},
	}

	now := time.Now()
	for _, e := range resp.Subscriber.Entitlements {
		if e.ExpiresDate != nil && e.ExpiresDate.Before(now) {
			continue
		}
		tier := entitlement.ParseTier(tierFromProduct(e.ProductIdentifier))
		if tier == entitlement.TierFree {
			continue
		}
		// Yearly outranks monthly when both are somehow present.
		if info.Tier == entitlement.TierPremiumYearly {
			continue
		}
		info.Tier = tier
		info.SubscriptionExpiry = e.ExpiresDate
	}
	return info
}

func tierFromProduct(productID string) string {
	switch {
	case strings.Contains(productID, "premium_yearly"):
		return string(entitlement.TierPremiumYearly)
	case strings.Contains(productID, "premium_monthly"):
		return string(entitlement.TierPremiumMonthly)
	default:
		return string(entitlement.TierFree)
	}
}
