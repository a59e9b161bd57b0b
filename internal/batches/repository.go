package batches

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/movements"
)

// Repository persists batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetByIdentityForUpdate(ctx context.Context, productID int64, batchNumber string) (Batch, error)
	GetForUpdate(ctx context.Context, id int64) (Batch, error)
	Insert(ctx context.Context, b Batch) (int64, error)
	MergeReceipt(ctx context.Context, id int64, qty float64, pricing *Pricing) error
	AdjustBoth(ctx context.Context, id int64, delta float64) (bool, error)
	Consume(ctx context.Context, id int64, qty float64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SumBranchStock(ctx context.Context, batchID int64) (float64, error)
	NumberTakenByOtherProduct(ctx context.Context, productID int64, batchNumber string) (bool, error)
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

// Get returns a batch by id.
func (r *Repository) Get(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+batchColumns+` FROM product_batches WHERE id = $1`, id)
	return scanBatch(row)
}

// GetByIdentity returns a batch by its merge key.
func (r *Repository) GetByIdentity(ctx context.Context, productID int64, batchNumber string) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+batchColumns+` FROM product_batches WHERE product_id = $1 AND batch_number = $2`, productID, batchNumber)
	return scanBatch(row)
}

// ListByProduct returns every batch of a product, newest receipt first.
func (r *Repository) ListByProduct(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+batchColumns+` FROM product_batches WHERE product_id = $1 ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// MarkExpired flips active batches whose expiry date has passed. Used by
// the sweep job; quantity is untouched.
func (r *Repository) MarkExpired(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE product_batches
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expiry_date IS NOT NULL AND expiry_date < $3
	`, string(StatusExpired), string(StatusActive), asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) GetByIdentityForUpdate(ctx context.Context, productID int64, batchNumber string) (Batch, error) {
	return GetByIdentityForUpdateTx(ctx, r.tx, productID, batchNumber)
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Batch, error) {
	return GetForUpdateTx(ctx, r.tx, id)
}

func (r *txRepo) Insert(ctx context.Context, b Batch) (int64, error) {
	return InsertTx(ctx, r.tx, b)
}

func (r *txRepo) MergeReceipt(ctx context.Context, id int64, qty float64, pricing *Pricing) error {
	return MergeReceiptTx(ctx, r.tx, id, qty, pricing)
}

func (r *txRepo) AdjustBoth(ctx context.Context, id int64, delta float64) (bool, error) {
	return AdjustBothTx(ctx, r.tx, id, delta)
}

func (r *txRepo) Consume(ctx context.Context, id int64, qty float64) (bool, error) {
	return ConsumeTx(ctx, r.tx, id, qty)
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	return UpdateStatusTx(ctx, r.tx, id, status)
}

func (r *txRepo) SumBranchStock(ctx context.Context, batchID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM branch_batch_stock WHERE batch_id = $1`, batchID).Scan(&sum)
	return sum, err
}

func (r *txRepo) NumberTakenByOtherProduct(ctx context.Context, productID int64, batchNumber string) (bool, error) {
	var taken bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM product_batches WHERE batch_number = $1 AND product_id <> $2)
	`, batchNumber, productID).Scan(&taken)
	return taken, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m movements.Movement) error {
	return movements.Insert(ctx, r.tx, m)
}
