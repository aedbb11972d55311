// Package outbox persists purchase notifications awaiting delivery to the
// backend, keyed by transaction id so duplicate sends are structurally
// impossible on the client side.
package outbox

import (
	"context"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

// Row is one queued (or delivered) purchase notification.
type Row struct {
	Transaction entitlement.PurchaseTransaction
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

type Repository interface {
	// Enqueue inserts the transaction if it is not present yet. Re-enqueuing
	// a known transaction id is a no-op, preserving its delivery state.
	Enqueue(ctx context.Context, tx entitlement.PurchaseTransaction) error

	// MarkDelivered stamps the row; marking twice is a no-op.
	MarkDelivered(ctx context.Context, transactionID string) error

	// Get returns the row or common.ErrNotFound.
	Get(ctx context.Context, transactionID string) (*Row, error)

	// Pending lists undelivered rows, oldest first.
	Pending(ctx context.Context) ([]*Row, error)

	// Clear wipes the table (sign-out).
	Clear(ctx context.Context) error
}
