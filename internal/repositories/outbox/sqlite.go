package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/common"
	"github.com/zadahmed/everwith-entitlements/internal/dbx"
	"github.com/zadahmed/everwith-entitlements/internal/entitlement"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, tx entitlement.PurchaseTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	// Primary key on transaction_id makes duplicate submissions no-ops.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO purchase_outbox (transaction_id, product_id, purchase_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING
	`, tx.TransactionID, tx.ProductID, string(tx.PurchaseType), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue transaction %s: %w", tx.TransactionID, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkDelivered(ctx context.Context, transactionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE purchase_outbox SET delivered_at = ?
		WHERE transaction_id = ? AND delivered_at IS NULL
	`, time.Now().UTC(), transactionID)
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s delivered: %w", transactionID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, transactionID string) (*Row, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT payload, created_at, delivered_at FROM purchase_outbox
		WHERE transaction_id = ?
	`, transactionID)

	out, err := scanRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox row %s: %w", transactionID, err)
	}
	return out, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context) ([]*Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload, created_at, delivered_at FROM purchase_outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox rows: %w", err)
	}
	defer rows.Close()

	var result []*Row
	for rows.Next() {
		out, err := scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		result = append(result, out)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM purchase_outbox`)
	if err != nil {
		return fmt.Errorf("failed to clear outbox: %w", err)
	}
	return nil
}

func scanRow(scan func(dest ...any) error) (*Row, error) {
	var payload []byte
	var createdAt time.Time
	var deliveredAt sql.NullTime

	if err := scan(&payload, &createdAt, &deliveredAt); err != nil {
		return nil, err
	}

	var tx entitlement.PurchaseTransaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, err
	}

	out := &Row{Transaction: tx, CreatedAt: createdAt}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		out.DeliveredAt = &t
	}
	return out, nil
}
