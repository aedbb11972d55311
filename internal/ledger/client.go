// Package ledger implements the authenticated REST client for the backend
// credit/subscription API. The server, not this client, is the source of
// truth for debits: every balance here is a read-through mirror.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

// Client is the backend credit/subscription contract the engine consumes.
//
// All reads are idempotent and may be retried by callers. UseCredit performs
// a server-side atomic debit and is never auto-retried: a transport failure
// reads as "access not confirmed" (common.ErrLedgerDebitFailed).
type Client interface {
	FetchStatus(ctx context.Context) (*SubscriptionStatusResponse, error)
	FetchBalance(ctx context.Context) (*CreditsResponse, error)
	CheckAccess(ctx context.Context, mode entitlement.Mode) (*AccessCheckResponse, error)
	UseCredit(ctx context.Context, mode entitlement.Mode) (*UseCreditResponse, error)
	FetchCreditCosts(ctx context.Context) (map[entitlement.Mode]int, error)

	Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResponse, error)
	PurchaseCredits(ctx context.Context, req CreditPurchaseRequest) (*CreditPurchaseResponse, error)
	NotifyPurchase(ctx context.Context, req PurchaseNotificationRequest) error
}

// HTTPClient talks JSON over HTTP to the subscription API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

const defaultTimeout = 12 * time.Second

func NewHTTPClient(baseURL string, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL + common.SubscriptionAPIBasePath,
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
	}
}

func (c *HTTPClient) FetchStatus(ctx context.Context) (*SubscriptionStatusResponse, error) {
	var out SubscriptionStatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FetchBalance(ctx context.Context) (*CreditsResponse, error) {
	var out CreditsResponse
	if err := c.do(ctx, http.MethodGet, "/credits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CheckAccess(ctx context.Context, mode entitlement.Mode) (*AccessCheckResponse, error) {
	var out AccessCheckResponse
	if err := c.do(ctx, http.MethodPost, "/check-access", AccessCheckRequest{Mode: string(mode)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UseCredit(ctx context.Context, mode entitlement.Mode) (*UseCreditResponse, error) {
	var out UseCreditResponse
	err := c.do(ctx, http.MethodPost, "/use-credit", UseCreditRequest{Mode: string(mode)}, &out)
	if err != nil {
		// No response from the server means the debit is unconfirmed; the
		// caller must deny the paid action, whatever actually happened.
		switch {
		case isStatus(err, http.StatusPaymentRequired):
			return nil, fmt.Errorf("%w: %w", common.ErrLedgerDebitFailed, common.ErrNoCredits)
		case isStatus(err, http.StatusUnauthorized):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", common.ErrLedgerDebitFailed, err)
		}
	}
	return &out, nil
}

func (c *HTTPClient) FetchCreditCosts(ctx context.Context) (map[entitlement.Mode]int, error) {
	var out CreditCostsResponse
	if err := c.do(ctx, http.MethodGet, "/credit-costs", nil, &out); err != nil {
		return nil, err
	}

	costs := make(map[entitlement.Mode]int, len(entitlement.Modes))
	for mode, def := range entitlement.DefaultCreditCosts {
		costs[mode] = def
	}
	for name, cost := range out.ServiceCosts {
		costs[entitlement.Mode(name)] = cost
	}
	return costs, nil
}

func (c *HTTPClient) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResponse, error) {
	var out SubscribeResponse
	if err := c.do(ctx, http.MethodPost, "/subscribe", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) PurchaseCredits(ctx context.Context, req CreditPurchaseRequest) (*CreditPurchaseResponse, error) {
	var out CreditPurchaseResponse
	if err := c.do(ctx, http.MethodPost, "/credits/purchase", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) NotifyPurchase(ctx context.Context, req PurchaseNotificationRequest) error {
	return c.do(ctx, http.MethodPost, "/purchase-notification", req, nil)
}

// statusError carries a non-2xx HTTP status through the error chain so
// operation wrappers can map specific codes.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", common.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return common.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %w", method, path, &statusError{code: resp.StatusCode, body: string(b)})
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
