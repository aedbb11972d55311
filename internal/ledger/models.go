package ledger

import "time"

// DTOs mirroring the backend credit/subscription contract under
// /api/subscriptions. Field names follow the wire format.

type SubscriptionStatusResponse struct {
	Tier         string     `json:"tier"`
	Status       string     `json:"status"`
	IsActive     bool       `json:"is_active"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	TrialEndDate *time.Time `json:"trial_end_date,omitempty"`
	AutoRenew    bool       `json:"auto_renew"`
}

type CreditsResponse struct {
	CreditsRemaining int        `json:"credits_remaining"`
	TotalPurchased   int        `json:"total_purchased"`
	TotalUsed        int        `json:"total_used"`
	LastPurchaseDate *time.Time `json:"last_purchase_date,omitempty"`
}

type AccessCheckRequest struct {
	Mode string `json:"mode"`
}

type AccessCheckResponse struct {
	HasAccess         bool   `json:"has_access"`
	RemainingCredits  int    `json:"remaining_credits"`
	FreeUsesRemaining int    `json:"free_uses_remaining"`
	SubscriptionTier  string `json:"subscription_tier"`
	Message           string `json:"message,omitempty"`
}

type UseCreditRequest struct {
	Mode string `json:"mode"`
}

type UseCreditResponse struct {
	SubscriptionActive bool `json:"subscription_active"`
	CreditsRemaining   int  `json:"credits_remaining"`
}

type SubscribeRequest struct {
	Tier          string `json:"tier"`
	TransactionID string `json:"transaction_id"`
	ReceiptData   string `json:"receipt_data"`
}

type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
	Tier           string `json:"tier"`
	Status         string `json:"status"`
}

type CreditPurchaseRequest struct {
	Credits       int     `json:"credits"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	TransactionID string  `json:"transaction_id"`
	ReceiptData   string  `json:"receipt_data"`
}

type CreditPurchaseResponse struct {
	CreditsAdded int `json:"credits_added"`
	NewBalance   int `json:"new_balance"`
}

type PurchaseNotificationRequest struct {
	UserID           string            `json:"user_id"`
	ProductID        string            `json:"product_id"`
	TransactionID    string            `json:"transaction_id"`
	PurchaseType     string            `json:"purchase_type"`
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`
}

type CreditCostsResponse struct {
	ServiceCosts map[string]int `json:"service_costs"`
}
