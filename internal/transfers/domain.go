// Package transfers moves batch stock between branches.
package transfers

import (
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Status of a branch transfer. Transfers post atomically, so a committed
// header is always completed; cancelled exists for operator-voided drafts
// kept for the paper trail.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Transfer is one stock movement between two branches.
type Transfer struct {
	ID           int64          `json:"id"`
	Reference    string         `json:"reference"`
	FromBranchID int64          `json:"from_branch_id"`
	ToBranchID   int64          `json:"to_branch_id"`
	Note         string         `json:"note,omitempty"`
	Status       Status         `json:"status"`
	CreatedBy    int64          `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	Items        []TransferItem `json:"items"`
}

// TransferItem is one batch line on a transfer.
type TransferItem struct {
	ID         int64   `json:"id"`
	TransferID int64   `json:"transfer_id"`
	ProductID  int64   `json:"product_id"`
	BatchID    int64   `json:"batch_id"`
	Quantity   float64 `json:"quantity"`
}

// CreateInput carries a transfer request.
type CreateInput struct {
	FromBranchID int64
	ToBranchID   int64
	Note         string
	Items        []ItemInput
	ActorID      int64
}

// ItemInput is one requested transfer line.
type ItemInput struct {
	ProductID int64
	BatchID   int64
	Quantity  float64
}

var (
	ErrTransferNotFound  = fmt.Errorf("transfers: transfer %w", shared.ErrNotFound)
	ErrSameBranch        = fmt.Errorf("transfers: source and destination branches must differ: %w", shared.ErrValidation)
	ErrNoItems           = fmt.Errorf("transfers: at least one item required: %w", shared.ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("transfers: %w", shared.ErrInvalidQuantity)
	ErrInsufficientStock = fmt.Errorf("transfers: %w", shared.ErrInsufficientStock)
)
