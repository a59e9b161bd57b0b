package branchstock

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transaction-scoped SQL helpers. Fulfilment and transfer repositories
// reuse these so a branch debit and its counterpart commit atomically with
// the business write that caused them.

// GetOrCreateTx fetches the stock row for (branch, batch), inserting a
// zero-quantity row when missing. The upsert keeps a lookup racing an
// insert from fragmenting into duplicate rows.
func GetOrCreateTx(ctx context.Context, tx pgx.Tx, productID, branchID, batchID int64) (Stock, error) {
	var s Stock
	err := tx.QueryRow(ctx, `
		INSERT INTO branch_batch_stock (product_id, branch_id, batch_id, quantity)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (branch_id, batch_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, product_id, branch_id, batch_id, quantity, created_at, updated_at
	`, productID, branchID, batchID).Scan(
		&s.ID, &s.ProductID, &s.BranchID, &s.BatchID, &s.Quantity, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// AdjustTx applies a signed delta to a stock row. Returns false when the
// row would go negative or does not exist; the guard is in the WHERE
// clause so concurrent debits cannot both drain the same quantity.
func AdjustTx(ctx context.Context, tx pgx.Tx, branchID, batchID int64, delta float64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE branch_batch_stock
		SET quantity = quantity + $1, updated_at = NOW()
		WHERE branch_id = $2 AND batch_id = $3 AND quantity + $1 >= 0
	`, delta, branchID, batchID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreditTx credits quantity to a stock row, creating it when absent.
func CreditTx(ctx context.Context, tx pgx.Tx, productID, branchID, batchID int64, qty float64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO branch_batch_stock (product_id, branch_id, batch_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (branch_id, batch_id)
		DO UPDATE SET quantity = branch_batch_stock.quantity + EXCLUDED.quantity, updated_at = NOW()
	`, productID, branchID, batchID, qty)
	return err
}
