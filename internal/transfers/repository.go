package transfers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/branchstock"
	"github.com/caravel-erp/caravel-erp/internal/movements"
)

// Repository persists branch transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface the service posts through.
// Stock effects ride the same transaction as the header and item inserts.
type TxRepository interface {
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	InsertItem(ctx context.Context, item TransferItem) (int64, error)
	DebitSource(ctx context.Context, branchID, batchID int64, qty float64) (bool, error)
	CreditDestination(ctx context.Context, productID, branchID, batchID int64, qty float64) error
	EnsureStockRow(ctx context.Context, productID, branchID, batchID int64) error
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

// Get loads a transfer header with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	var t Transfer
	err := r.pool.QueryRow(ctx, `
		SELECT id, reference, from_branch_id, to_branch_id, COALESCE(note, ''), status, created_by, created_at
		FROM branch_transfers WHERE id = $1
	`, id).Scan(&t.ID, &t.Reference, &t.FromBranchID, &t.ToBranchID, &t.Note, &t.Status, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, transfer_id, product_id, batch_id, quantity
		FROM branch_transfer_items WHERE transfer_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item TransferItem
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.BatchID, &item.Quantity); err != nil {
			return Transfer{}, err
		}
		t.Items = append(t.Items, item)
	}
	return t, rows.Err()
}

// ListByBranch returns transfer headers touching a branch, newest first.
func (r *Repository) ListByBranch(ctx context.Context, branchID int64, limit int) ([]Transfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, reference, from_branch_id, to_branch_id, COALESCE(note, ''), status, created_by, created_at
		FROM branch_transfers
		WHERE from_branch_id = $1 OR to_branch_id = $1
		ORDER BY id DESC LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Reference, &t.FromBranchID, &t.ToBranchID, &t.Note, &t.Status, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO branch_transfers (reference, from_branch_id, to_branch_id, note, status, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING id
	`, t.Reference, t.FromBranchID, t.ToBranchID, t.Note, t.Status, t.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) InsertItem(ctx context.Context, item TransferItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO branch_transfer_items (transfer_id, product_id, batch_id, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, item.TransferID, item.ProductID, item.BatchID, item.Quantity).Scan(&id)
	return id, err
}

func (r *txRepo) DebitSource(ctx context.Context, branchID, batchID int64, qty float64) (bool, error) {
	return branchstock.AdjustTx(ctx, r.tx, branchID, batchID, -qty)
}

func (r *txRepo) CreditDestination(ctx context.Context, productID, branchID, batchID int64, qty float64) error {
	return branchstock.CreditTx(ctx, r.tx, productID, branchID, batchID, qty)
}

func (r *txRepo) EnsureStockRow(ctx context.Context, productID, branchID, batchID int64) error {
	_, err := branchstock.GetOrCreateTx(ctx, r.tx, productID, branchID, batchID)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m movements.Movement) error {
	return movements.Insert(ctx, r.tx, m)
}
