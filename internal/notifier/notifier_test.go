package notifier

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
	"github.com/zadahmed/everwith-entitlements/internal/ledger"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/repositories/outbox"

	_ "modernc.org/sqlite"
)

// ---- helpers ----

func setupOutbox(t *testing.T) outbox.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE purchase_outbox (
  transaction_id TEXT PRIMARY KEY,
  product_id     TEXT NOT NULL,
  purchase_type  TEXT NOT NULL,
  payload        BLOB NOT NULL,
  created_at     TIMESTAMP NOT NULL,
  delivered_at   TIMESTAMP
);`)
	require.NoError(t, err)
	return outbox.NewSQLiteRepository(db)
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleTx(id string) entitlement.PurchaseTransaction {
	return entitlement.PurchaseTransaction{
		ProductID:     "credits_25",
		TransactionID: id,
		PurchaseType:  entitlement.PurchaseTypeCreditPack,
		Timestamp:     time.Now().UTC(),
	}
}

// ---- fake ledger client ----

// fakeLedger implements ledger.Client, recording the purchase-side calls.
type fakeLedger struct {
	notifyErr error
	bookErr   error

	notified   []ledger.PurchaseNotificationRequest
	subscribed []ledger.SubscribeRequest
	purchased  []ledger.CreditPurchaseRequest
}

func (f *fakeLedger) FetchStatus(ctx context.Context) (*ledger.SubscriptionStatusResponse, error) {
	return &ledger.SubscriptionStatusResponse{Tier: "free"}, nil
}
func (f *fakeLedger) FetchBalance(ctx context.Context) (*ledger.CreditsResponse, error) {
	return &ledger.CreditsResponse{}, nil
}
func (f *fakeLedger) CheckAccess(ctx context.Context, mode entitlement.Mode) (*ledger.AccessCheckResponse, error) {
	return &ledger.AccessCheckResponse{}, nil
}
func (f *fakeLedger) UseCredit(ctx context.Context, mode entitlement.Mode) (*ledger.UseCreditResponse, error) {
	return &ledger.UseCreditResponse{}, nil
}
func (f *fakeLedger) FetchCreditCosts(ctx context.Context) (map[entitlement.Mode]int, error) {
	return entitlement.DefaultCreditCosts, nil
}
func (f *fakeLedger) Subscribe(ctx context.Context, req ledger.SubscribeRequest) (*ledger.SubscribeResponse, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	f.subscribed = append(f.subscribed, req)
	return &ledger.SubscribeResponse{Tier: req.Tier, Status: "active"}, nil
}
func (f *fakeLedger) PurchaseCredits(ctx context.Context, req ledger.CreditPurchaseRequest) (*ledger.CreditPurchaseResponse, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	f.purchased = append(f.purchased, req)
	return &ledger.CreditPurchaseResponse{CreditsAdded: req.Credits}, nil
}
func (f *fakeLedger) NotifyPurchase(ctx context.Context, req ledger.PurchaseNotificationRequest) error {
	f.notified = append(f.notified, req)
	return f.notifyErr
}

// ---- TESTS ----

func TestNotify_DeliversAndMarks(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, sampleTx("tx-1")))

	require.Len(t, lc.notified, 1)
	require.Equal(t, "user-1", lc.notified[0].UserID)
	require.Equal(t, "tx-1", lc.notified[0].TransactionID)
	require.Equal(t, "credit_pack", lc.notified[0].PurchaseType)

	row, err := ob.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, row.DeliveredAt)
}

func TestNotify_CreditPack_BooksCreditsOnLedger(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{}
	n := New(lc, ob, "user-1", discardLogger())

	require.NoError(t, n.Notify(context.Background(), sampleTx("tx-1")))

	require.Len(t, lc.purchased, 1)
	require.Equal(t, 25, lc.purchased[0].Credits)
	require.Equal(t, "tx-1", lc.purchased[0].TransactionID)
	require.Empty(t, lc.subscribed)
}

func TestNotify_Subscription_ActivatesTierOnLedger(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{}
	n := New(lc, ob, "user-1", discardLogger())

	tx := entitlement.PurchaseTransaction{
		ProductID:     "premium_yearly",
		TransactionID: "tx-sub",
		PurchaseType:  entitlement.PurchaseTypeSubscription,
		Timestamp:     time.Now().UTC(),
		ProviderData:  map[string]string{"receipt_data": "r-1"},
	}
	require.NoError(t, n.Notify(context.Background(), tx))

	require.Len(t, lc.subscribed, 1)
	require.Equal(t, "premium_yearly", lc.subscribed[0].Tier)
	require.Equal(t, "tx-sub", lc.subscribed[0].TransactionID)
	require.Equal(t, "r-1", lc.subscribed[0].ReceiptData)
	require.Empty(t, lc.purchased)
}

func TestNotify_DuplicateAfterDelivery_DoesNotRebook(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, sampleTx("tx-1")))
	require.NoError(t, n.Notify(ctx, sampleTx("tx-1")))

	require.Len(t, lc.purchased, 1)
}

func TestNotify_BookingFailureLeavesPending(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{bookErr: errors.New("backend down")}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	require.Error(t, n.Notify(ctx, sampleTx("tx-1")))

	// Booking failed, so the audit notification must not have gone out
	// and the row stays queued for Flush.
	require.Empty(t, lc.notified)
	pending, err := ob.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestNotify_DuplicateAfterDelivery_IsNoop(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, sampleTx("tx-1")))
	require.NoError(t, n.Notify(ctx, sampleTx("tx-1")))

	// One wire call, not two.
	require.Len(t, lc.notified, 1)
}

func TestNotify_FailureLeavesPending(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{notifyErr: errors.New("backend down")}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	err := n.Notify(ctx, sampleTx("tx-1"))
	require.Error(t, err)

	pending, err := ob.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestFlush_RetriesPendingUntilDelivered(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{notifyErr: errors.New("backend down")}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	_ = n.Notify(ctx, sampleTx("tx-1"))
	_ = n.Notify(ctx, sampleTx("tx-2"))

	// Backend recovers.
	lc.notifyErr = nil
	require.NoError(t, n.Flush(ctx))

	pending, err := ob.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Another flush sends nothing new.
	sent := len(lc.notified)
	require.NoError(t, n.Flush(ctx))
	require.Len(t, lc.notified, sent)
}

func TestFlush_ReportsFirstError(t *testing.T) {
	ob := setupOutbox(t)
	lc := &fakeLedger{notifyErr: errors.New("still down")}
	n := New(lc, ob, "user-1", discardLogger())
	ctx := context.Background()

	_ = n.Notify(ctx, sampleTx("tx-1"))
	require.Error(t, n.Flush(ctx))
}
