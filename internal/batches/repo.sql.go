package batches

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// SQL helpers shared by every transaction that mutates batch quantities.
// Fulfilment and transfer repositories call these inside their own
// transactions so an order-item write and its batch effect commit together.
// Every quantity change is a single conditional UPDATE; the guard lives in
// the WHERE clause, never in application code.

const batchColumns = `
	id, product_id, batch_number, manufacturing_date, expiry_date,
	supplier_batch_number, cost_price, purchase_price, trade_price, mrp,
	quantity_received, quantity_remaining, status, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.ProductID, &b.BatchNumber, &b.ManufacturingDate, &b.ExpiryDate,
		&b.SupplierBatchNumber, &b.CostPrice, &b.PurchasePrice, &b.TradePrice, &b.MRP,
		&b.QuantityReceived, &b.QuantityRemaining, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// GetByIdentityForUpdateTx locks and returns the batch for a merge key.
func GetByIdentityForUpdateTx(ctx context.Context, tx pgx.Tx, productID int64, batchNumber string) (Batch, error) {
	row := tx.QueryRow(ctx, `SELECT`+batchColumns+` FROM product_batches WHERE product_id = $1 AND batch_number = $2 FOR UPDATE`, productID, batchNumber)
	return scanBatch(row)
}

// GetForUpdateTx locks and returns a batch by id.
func GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (Batch, error) {
	row := tx.QueryRow(ctx, `SELECT`+batchColumns+` FROM product_batches WHERE id = $1 FOR UPDATE`, id)
	return scanBatch(row)
}

// InsertTx creates a new batch row on first receipt.
func InsertTx(ctx context.Context, tx pgx.Tx, b Batch) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO product_batches (
			product_id, batch_number, manufacturing_date, expiry_date,
			supplier_batch_number, cost_price, purchase_price, trade_price, mrp,
			quantity_received, quantity_remaining, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		b.ProductID, b.BatchNumber, b.ManufacturingDate, b.ExpiryDate,
		b.SupplierBatchNumber, b.CostPrice, b.PurchasePrice, b.TradePrice, b.MRP,
		b.QuantityReceived, b.QuantityRemaining, string(b.Status),
	).Scan(&id)
	return id, err
}

// MergeReceiptTx adds a receipt quantity to both counters of an existing
// batch, optionally replacing pricing.
func MergeReceiptTx(ctx context.Context, tx pgx.Tx, id int64, qty float64, pricing *Pricing) error {
	if pricing != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE product_batches
			SET quantity_received = quantity_received + $1,
			    quantity_remaining = quantity_remaining + $1,
			    cost_price = $2, purchase_price = $3, trade_price = $4, mrp = $5,
			    updated_at = NOW()
			WHERE id = $6
		`, qty, pricing.CostPrice, pricing.PurchasePrice, pricing.TradePrice, pricing.MRP, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrBatchNotFound
		}
		return nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE product_batches
		SET quantity_received = quantity_received + $1,
		    quantity_remaining = quantity_remaining + $1,
		    updated_at = NOW()
		WHERE id = $2
	`, qty, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// AdjustBothTx applies a signed correction to received and remaining
// together. Returns false when the guard (remaining stays >= 0) rejects it.
func AdjustBothTx(ctx context.Context, tx pgx.Tx, id int64, delta float64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE product_batches
		SET quantity_received = quantity_received + $1,
		    quantity_remaining = quantity_remaining + $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND quantity_remaining + $1 >= 0
		  AND quantity_received + $1 >= 0
	`, delta, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ConsumeTx decrements only the remaining quantity. Returns false when the
// batch lacks the requested quantity.
func ConsumeTx(ctx context.Context, tx pgx.Tx, id int64, qty float64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE product_batches
		SET quantity_remaining = quantity_remaining - $1, updated_at = NOW()
		WHERE id = $2 AND quantity_remaining >= $1
	`, qty, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RestoreTx credits remaining quantity back after a sale reversal, capped
// at the received quantity.
func RestoreTx(ctx context.Context, tx pgx.Tx, id int64, qty float64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE product_batches
		SET quantity_remaining = quantity_remaining + $1, updated_at = NOW()
		WHERE id = $2 AND quantity_remaining + $1 <= quantity_received
	`, qty, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatusTx sets the batch status.
func UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status Status) error {
	tag, err := tx.Exec(ctx, `UPDATE product_batches SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}
