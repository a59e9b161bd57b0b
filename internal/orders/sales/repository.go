package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/batches"
	"github.com/caravel-erp/caravel-erp/internal/branchstock"
	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/orders/totals"
)

// Repository persists sales orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface the service posts through.
type TxRepository interface {
	InsertOrder(ctx context.Context, o Order) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateOrderTotals(ctx context.Context, id int64, t totals.Totals) error

	InsertItem(ctx context.Context, item Item) (int64, error)
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, id int64) error
	ListItemTotals(ctx context.Context, orderID int64) ([]float64, error)

	GetBatchForUpdate(ctx context.Context, id int64) (batches.Batch, error)
	ConsumeBatch(ctx context.Context, batchID int64, qty float64) (bool, error)
	RestoreBatch(ctx context.Context, batchID int64, qty float64) (bool, error)

	DebitBranch(ctx context.Context, branchID, batchID int64, qty float64) (bool, error)
	CreditBranch(ctx context.Context, productID, branchID, batchID int64, qty float64) error

	InsertPayment(ctx context.Context, p totals.Payment) (int64, error)
	SumPayments(ctx context.Context, orderID int64) (float64, error)

	InsertMovement(ctx context.Context, m movements.Movement) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `
	id, reference, branch_id, customer_id, COALESCE(note, ''), status,
	subtotal, discount_total, tax_total, shipping_total, grand_total,
	paid_total, due_total, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Reference, &o.BranchID, &o.CustomerID, &o.Note, &o.Status,
		&o.Subtotal, &o.DiscountTotal, &o.TaxTotal, &o.ShippingTotal, &o.GrandTotal,
		&o.PaidTotal, &o.DueTotal, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

// Get loads an order with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM sales_orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, COALESCE(batch_id, 0), quantity,
		       unit_price, discount_amount, discount_percent, total
		FROM sales_order_items WHERE order_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.BatchID,
			&item.Quantity, &item.UnitPrice, &item.DiscountAmount, &item.DiscountPercent,
			&item.Total); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// ListPayments returns the order's payment ledger, oldest first.
func (r *Repository) ListPayments(ctx context.Context, orderID int64) ([]totals.Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_type, order_id, amount, COALESCE(method, ''), COALESCE(reference, ''), paid_at
		FROM order_payments WHERE order_type = 'sales' AND order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []totals.Payment
	for rows.Next() {
		var p totals.Payment
		if err := rows.Scan(&p.ID, &p.OrderType, &p.OrderID, &p.Amount, &p.Method, &p.Reference, &p.PaidAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *txRepo) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_orders (
			reference, branch_id, customer_id, note, status,
			subtotal, discount_total, tax_total, shipping_total, grand_total,
			paid_total, due_total, created_by
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, o.Reference, o.BranchID, o.CustomerID, o.Note, o.Status,
		o.Subtotal, o.DiscountTotal, o.TaxTotal, o.ShippingTotal, o.GrandTotal,
		o.PaidTotal, o.DueTotal, o.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return scanOrder(r.tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM sales_orders WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateOrderTotals(ctx context.Context, id int64, t totals.Totals) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_orders
		SET subtotal = $1, discount_total = $2, tax_total = $3, shipping_total = $4,
		    grand_total = $5, paid_total = $6, due_total = $7, updated_at = NOW()
		WHERE id = $8
	`, t.Subtotal, t.DiscountTotal, t.TaxTotal, t.ShippingTotal, t.GrandTotal, t.PaidTotal, t.DueTotal, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_order_items (
			order_id, product_id, batch_id, quantity, unit_price,
			discount_amount, discount_percent, total
		) VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8)
		RETURNING id
	`, item.OrderID, item.ProductID, item.BatchID, item.Quantity, item.UnitPrice,
		item.DiscountAmount, item.DiscountPercent, item.Total).Scan(&id)
	return id, err
}

func (r *txRepo) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `
		SELECT id, order_id, product_id, COALESCE(batch_id, 0), quantity,
		       unit_price, discount_amount, discount_percent, total
		FROM sales_order_items WHERE id = $1 FOR UPDATE
	`, id).Scan(&item.ID, &item.OrderID, &item.ProductID, &item.BatchID,
		&item.Quantity, &item.UnitPrice, &item.DiscountAmount, &item.DiscountPercent,
		&item.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (r *txRepo) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_order_items
		SET batch_id = NULLIF($1, 0), quantity = $2, unit_price = $3,
		    discount_amount = $4, discount_percent = $5, total = $6
		WHERE id = $7
	`, item.BatchID, item.Quantity, item.UnitPrice,
		item.DiscountAmount, item.DiscountPercent, item.Total, item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) DeleteItem(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales_order_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) ListItemTotals(ctx context.Context, orderID int64) ([]float64, error) {
	rows, err := r.tx.Query(ctx, `SELECT total FROM sales_order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []float64
	for rows.Next() {
		var t float64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, id int64) (batches.Batch, error) {
	return batches.GetForUpdateTx(ctx, r.tx, id)
}

func (r *txRepo) ConsumeBatch(ctx context.Context, batchID int64, qty float64) (bool, error) {
	return batches.ConsumeTx(ctx, r.tx, batchID, qty)
}

func (r *txRepo) RestoreBatch(ctx context.Context, batchID int64, qty float64) (bool, error) {
	return batches.RestoreTx(ctx, r.tx, batchID, qty)
}

func (r *txRepo) DebitBranch(ctx context.Context, branchID, batchID int64, qty float64) (bool, error) {
	return branchstock.AdjustTx(ctx, r.tx, branchID, batchID, -qty)
}

func (r *txRepo) CreditBranch(ctx context.Context, productID, branchID, batchID int64, qty float64) error {
	return branchstock.CreditTx(ctx, r.tx, productID, branchID, batchID, qty)
}

func (r *txRepo) InsertPayment(ctx context.Context, p totals.Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_payments (order_type, order_id, amount, method, reference, paid_at)
		VALUES ('sales', $1, $2, NULLIF($3, ''), NULLIF($4, ''), COALESCE($5, NOW()))
		RETURNING id
	`, p.OrderID, p.Amount, p.Method, p.Reference, p.PaidAt).Scan(&id)
	return id, err
}

func (r *txRepo) SumPayments(ctx context.Context, orderID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM order_payments
		WHERE order_type = 'sales' AND order_id = $1
	`, orderID).Scan(&sum)
	return sum, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m movements.Movement) error {
	return movements.Insert(ctx, r.tx, m)
}
