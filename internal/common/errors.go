// Package common defines shared constants and sentinel errors used across
// the entitlement engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Network / transport errors. Retryable by the caller; never treated
	// as success.
	ErrUnavailable = errors.New("server unavailable")

	// Auth errors. A 401 from the backend maps here; a layer above the
	// engine reacts with a forced sign-out.
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")

	// Purchase flow errors.
	ErrOfferUnavailable  = errors.New("no purchasable offer available")
	ErrPurchasePending   = errors.New("purchase awaiting external approval")
	ErrUserCancelled     = errors.New("purchase cancelled by user")
	ErrPurchaseInFlight  = errors.New("purchase already in flight for product")
	ErrStoreProblem      = errors.New("store unreachable through provider")
	ErrPurchaseFailed    = errors.New("purchase failed")
	ErrTransactionFinish = errors.New("transaction could not be finished")

	// Metering errors. A failed debit always reads as access denied.
	ErrLedgerDebitFailed = errors.New("credit debit not confirmed")
	ErrNoCredits         = errors.New("insufficient credits")
)
