// Package batches owns product batch records and their quantity lifecycle.
package batches

import (
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Status enumerates batch lifecycle states.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusRecalled Status = "recalled"
	StatusConsumed Status = "consumed"
)

// IsValid checks whether the status is a known state.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusRecalled, StatusConsumed:
		return true
	default:
		return false
	}
}

// Pricing carries the money fields attached to a batch receipt.
type Pricing struct {
	CostPrice     float64 `json:"cost_price"`
	PurchasePrice float64 `json:"purchase_price"`
	TradePrice    float64 `json:"trade_price"`
	MRP           float64 `json:"mrp"`
}

// Valid reports whether no pricing field is negative.
func (p Pricing) Valid() bool {
	return p.CostPrice >= 0 && p.PurchasePrice >= 0 && p.TradePrice >= 0 && p.MRP >= 0
}

// Batch is one dated lot of a product. (product_id, batch_number) is the
// identity: a second receipt of the same pair merges into the same row.
type Batch struct {
	ID                  int64      `json:"id"`
	ProductID           int64      `json:"product_id"`
	BatchNumber         string     `json:"batch_number"`
	ManufacturingDate   *time.Time `json:"manufacturing_date,omitempty"`
	ExpiryDate          *time.Time `json:"expiry_date,omitempty"`
	SupplierBatchNumber string     `json:"supplier_batch_number,omitempty"`
	Pricing
	QuantityReceived  float64   `json:"quantity_received"`
	QuantityRemaining float64   `json:"quantity_remaining"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ReceiptInput describes one receipt of a (product, batch number) pair.
type ReceiptInput struct {
	ProductID           int64
	BatchNumber         string
	Quantity            float64
	Pricing             Pricing
	ManufacturingDate   *time.Time
	ExpiryDate          *time.Time
	SupplierBatchNumber string
	// OverwritePricing replaces the stored pricing when merging into an
	// existing batch. New batches always take the supplied pricing.
	OverwritePricing bool
	ActorID          int64
	// RequestRef dedupes retries of the same logical receipt. Empty means
	// no idempotency guarantee: a bare retry double-counts.
	RequestRef string
}

// Package errors wrap the shared taxonomy so errors.Is works across layers.
var (
	ErrBatchNotFound        = fmt.Errorf("batches: batch %w", shared.ErrNotFound)
	ErrInvalidQuantity      = fmt.Errorf("batches: %w", shared.ErrInvalidQuantity)
	ErrInsufficientQuantity = fmt.Errorf("batches: %w", shared.ErrInsufficientStock)
	ErrDuplicateIdentity    = fmt.Errorf("batches: %w", shared.ErrDuplicateBatch)
	ErrInvalidStatus        = fmt.Errorf("batches: invalid status: %w", shared.ErrValidation)
)
