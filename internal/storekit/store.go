// Package storekit abstracts the platform's native in-app purchase API.
// It is the fallback purchase path used when the provider cannot reach the
// store itself; implementations are platform bindings, tests use fakes.
package storekit

import (
	"context"
	"time"
)

// Transaction is a purchase recorded by the platform store.
type Transaction struct {
	ProductID     string
	TransactionID string
	PurchaseDate  time.Time
	Verified      bool
}

// Store is the platform purchase surface.
//
// Purchase blocks until the store sheet resolves. User cancellation is
// reported as common.ErrUserCancelled; a purchase awaiting external approval
// (family approval, pending SCA) as common.ErrPurchasePending.
type Store interface {
	// Purchase drives the native purchase flow for the product and returns
	// the verified transaction.
	Purchase(ctx context.Context, productID string) (*Transaction, error)

	// Finish acknowledges the transaction with the store so it is not
	// re-delivered. Must be called exactly once per successful purchase.
	Finish(ctx context.Context, tx *Transaction) error
}
