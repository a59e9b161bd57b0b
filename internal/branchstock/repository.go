package branchstock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Repository persists branch stock in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetOrCreate(ctx context.Context, productID, branchID, batchID int64) (Stock, error)
	Adjust(ctx context.Context, branchID, batchID int64, delta float64) (bool, error)
	BatchRemainingForUpdate(ctx context.Context, batchID int64) (float64, error)
	SumForBatch(ctx context.Context, batchID int64) (float64, error)
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

const stockColumns = `id, product_id, branch_id, batch_id, quantity, created_at, updated_at`

// ListByBranch returns all stock rows at a branch.
func (r *Repository) ListByBranch(ctx context.Context, branchID int64) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM branch_batch_stock WHERE branch_id = $1 ORDER BY product_id, batch_id`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
}

// ListByProductAndBranch returns one product's stock rows at a branch.
func (r *Repository) ListByProductAndBranch(ctx context.Context, productID, branchID int64) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM branch_batch_stock WHERE product_id = $1 AND branch_id = $2 ORDER BY batch_id`, productID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
}

// ListAvailability joins stock rows with batch metadata for pickers.
// Zero rows are kept: an operator seeing an empty batch is a feature.
func (r *Repository) ListAvailability(ctx context.Context, productID, branchID int64) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.batch_id, b.batch_number, b.expiry_date, b.status, s.quantity
		FROM branch_batch_stock s
		JOIN product_batches b ON b.id = s.batch_id
		WHERE s.product_id = $1 AND s.branch_id = $2
		ORDER BY b.expiry_date NULLS LAST, b.id
	`, productID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Availability
	for rows.Next() {
		var a Availability
		if err := rows.Scan(&a.BatchID, &a.BatchNumber, &a.ExpiryDate, &a.Status, &a.Quantity); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanStocks(rows pgx.Rows) ([]Stock, error) {
	var result []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ID, &s.ProductID, &s.BranchID, &s.BatchID, &s.Quantity, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *txRepo) GetOrCreate(ctx context.Context, productID, branchID, batchID int64) (Stock, error) {
	return GetOrCreateTx(ctx, r.tx, productID, branchID, batchID)
}

func (r *txRepo) Adjust(ctx context.Context, branchID, batchID int64, delta float64) (bool, error) {
	return AdjustTx(ctx, r.tx, branchID, batchID, delta)
}

// BatchRemainingForUpdate locks the batch row and returns its remaining
// quantity, so a concurrent receipt reversal cannot slip in between the
// allocation check and the credit.
func (r *txRepo) BatchRemainingForUpdate(ctx context.Context, batchID int64) (float64, error) {
	var remaining float64
	err := r.tx.QueryRow(ctx, `SELECT quantity_remaining FROM product_batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("branchstock: batch %d: %w", batchID, shared.ErrNotFound)
	}
	return remaining, err
}

func (r *txRepo) SumForBatch(ctx context.Context, batchID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM branch_batch_stock WHERE batch_id = $1`, batchID).Scan(&sum)
	return sum, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m movements.Movement) error {
	return movements.Insert(ctx, r.tx, m)
}
