package movements

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the movement trail from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one movement inside the caller's transaction. Writers own
// the transaction boundary; the trail never drives other state.
func Insert(ctx context.Context, tx pgx.Tx, m Movement) error {
	occurredAt := m.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, batch_id, branch_id, direction, quantity, reason, ref_module, ref_id, note, occurred_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
	`, m.ProductID, m.BatchID, m.BranchID, string(m.Direction), m.Quantity, string(m.Reason), m.RefModule, m.RefID, m.Note, occurredAt)
	return err
}

// List returns movements matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, product_id, batch_id, COALESCE(branch_id, 0), direction, quantity, reason, ref_module, COALESCE(ref_id, ''), COALESCE(note, ''), occurred_at
		FROM stock_movements
		WHERE ($1 = 0 OR product_id = $1)
		  AND ($2 = 0 OR batch_id = $2)
		  AND ($3 = 0 OR branch_id = $3)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, filter.ProductID, filter.BatchID, filter.BranchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.BranchID, &m.Direction, &m.Quantity, &m.Reason, &m.RefModule, &m.RefID, &m.Note, &m.OccurredAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
