// Package branchstock owns per-branch batch stock rows.
package branchstock

import (
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Stock is the quantity of one batch physically present at one branch.
// Rows reach zero but are never deleted; the audit trail needs them.
type Stock struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	BranchID  int64     `json:"branch_id"`
	BatchID   int64     `json:"batch_id"`
	Quantity  float64   `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Availability is one batch-picker row: how much of a batch a branch can
// still transfer or sell.
type Availability struct {
	BatchID     int64      `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Status      string     `json:"status"`
	Quantity    float64    `json:"quantity"`
}

var (
	ErrStockNotFound     = fmt.Errorf("branchstock: stock row %w", shared.ErrNotFound)
	ErrInvalidQuantity   = fmt.Errorf("branchstock: %w", shared.ErrInvalidQuantity)
	ErrInsufficientStock = fmt.Errorf("branchstock: %w", shared.ErrInsufficientStock)
)
