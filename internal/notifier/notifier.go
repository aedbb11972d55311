// Package notifier reports completed purchases to the backend so
// server-side credit/subscription state matches the platform's record.
// Delivery is at-least-once over a persistent outbox; the transaction id is
// the idempotency key on both sides.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/ledger"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/repositories/outbox"
)

// BackendNotifier posts purchase notifications. Failures never block or
// reverse a purchase: the transaction stays queued and Flush retries it.
type BackendNotifier struct {
	ledger ledger.Client
	outbox outbox.Repository
	userID string
	log    logging.Logger
}

func New(lc ledger.Client, ob outbox.Repository, userID string, log logging.Logger) *BackendNotifier {
	return &BackendNotifier{ledger: lc, outbox: ob, userID: userID, log: log}
}

// Notify delivers the transaction. Calling it again with the same
// transaction id after a successful delivery is a no-op.
func (n *BackendNotifier) Notify(ctx context.Context, tx entitlement.PurchaseTransaction) error {
	row, err := n.outbox.Get(ctx, tx.TransactionID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("outbox lookup: %w", err)
	}
	if row != nil && row.DeliveredAt != nil {
		n.log.Debug(ctx, "purchase notification already delivered", "tx", tx.TransactionID)
		return nil
	}

	if err := n.outbox.Enqueue(ctx, tx); err != nil {
		return fmt.Errorf("outbox enqueue: %w", err)
	}
	return n.deliver(ctx, tx)
}

// Flush retries every pending notification, oldest first. Errors are
// logged per row; the first one is returned so callers can see the batch
// did not fully drain.
func (n *BackendNotifier) Flush(ctx context.Context) error {
	pending, err := n.outbox.Pending(ctx)
	if err != nil {
		return fmt.Errorf("outbox pending: %w", err)
	}

	var firstErr error
	for _, row := range pending {
		if err := n.deliver(ctx, row.Transaction); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (n *BackendNotifier) deliver(ctx context.Context, tx entitlement.PurchaseTransaction) error {
	if err := n.book(ctx, tx); err != nil {
		n.log.Warn(ctx, "purchase booking failed, left pending",
			"tx", tx.TransactionID, "err", err)
		return fmt.Errorf("book %s: %w", tx.TransactionID, err)
	}

	err := n.ledger.NotifyPurchase(ctx, ledger.PurchaseNotificationRequest{
		UserID:           n.userID,
		ProductID:        tx.ProductID,
		TransactionID:    tx.TransactionID,
		PurchaseType:     string(tx.PurchaseType),
		ProviderMetadata: tx.ProviderData,
	})
	if err != nil {
		n.log.Warn(ctx, "purchase notification delivery failed, left pending",
			"tx", tx.TransactionID, "err", err)
		return fmt.Errorf("notify %s: %w", tx.TransactionID, err)
	}

	if err := n.outbox.MarkDelivered(ctx, tx.TransactionID); err != nil {
		// Worst case the row is retried and the server's unique-transaction
		// constraint absorbs the duplicate.
		n.log.Warn(ctx, "failed to mark notification delivered", "tx", tx.TransactionID, "err", err)
	}
	n.log.Info(ctx, "purchase notification delivered", "tx", tx.TransactionID)
	return nil
}

// book records the purchase against the user's account: subscriptions
// activate the tier, credit packs top up the balance. The server keys both
// on the transaction id, so a retried row does not double-grant.
func (n *BackendNotifier) book(ctx context.Context, tx entitlement.PurchaseTransaction) error {
	switch tx.PurchaseType {
	case entitlement.PurchaseTypeSubscription:
		_, err := n.ledger.Subscribe(ctx, ledger.SubscribeRequest{
			Tier:          string(entitlement.ParseTier(tx.ProductID)),
			TransactionID: tx.TransactionID,
			ReceiptData:   tx.ProviderData["receipt_data"],
		})
		return err
	case entitlement.PurchaseTypeCreditPack:
		pack, ok := entitlement.FindCreditPack(tx.ProductID)
		if !ok {
			// Unknown product: leave the grant to the server's receipt
			// validation, but still report the transaction.
			n.log.Warn(ctx, "credit pack not in catalogue", "product", tx.ProductID)
		}
		_, err := n.ledger.PurchaseCredits(ctx, ledger.CreditPurchaseRequest{
			Credits:       pack.Credits,
			TransactionID: tx.TransactionID,
			ReceiptData:   tx.ProviderData["receipt_data"],
		})
		return err
	default:
		return nil
	}
}
