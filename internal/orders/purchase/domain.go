// Package purchase posts purchase orders and their stock-side effects.
package purchase

import (
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/orders/totals"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Status of a purchase order.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPosted    Status = "posted"
	StatusCancelled Status = "cancelled"
)

// Order is a purchase order header. Money columns mirror the derived
// rollup; recompute keeps them honest.
type Order struct {
	ID         int64     `json:"id"`
	Reference  string    `json:"reference"`
	BranchID   int64     `json:"branch_id"`
	SupplierID int64     `json:"supplier_id"`
	Note       string    `json:"note,omitempty"`
	Status     Status    `json:"status"`
	totals.Totals
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     []Item    `json:"items,omitempty"`
}

// Item is one purchased line. A non-empty BatchNumber binds the line to a
// product batch; an empty one marks non-tracked goods with no stock effect.
type Item struct {
	ID              int64   `json:"id"`
	OrderID         int64   `json:"order_id"`
	ProductID       int64   `json:"product_id"`
	BatchNumber     string  `json:"batch_number,omitempty"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountAmount  float64 `json:"discount_amount"`
	DiscountPercent float64 `json:"discount_percent"`
	Total           float64 `json:"total"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
}

// CreateInput opens a new order header.
type CreateInput struct {
	BranchID      int64
	SupplierID    int64
	Note          string
	DiscountTotal float64
	TaxTotal      float64
	ShippingTotal float64
	ActorID       int64
}

// ItemInput is one requested purchase line.
type ItemInput struct {
	ProductID       int64
	BatchNumber     string
	Quantity        float64
	UnitPrice       float64
	DiscountAmount  float64
	DiscountPercent float64
	ExpiryDate      *time.Time
}

// UpdateItemInput carries an item edit. Nil fields keep the stored value.
type UpdateItemInput struct {
	BatchNumber     *string
	Quantity        *float64
	UnitPrice       *float64
	DiscountAmount  *float64
	DiscountPercent *float64
}

// PaymentInput records one payment against the order.
type PaymentInput struct {
	Amount    float64
	Method    string
	Reference string
	ActorID   int64
}

var (
	ErrOrderNotFound     = fmt.Errorf("purchase: order %w", shared.ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("purchase: item %w", shared.ErrNotFound)
	ErrInvalidQuantity   = fmt.Errorf("purchase: %w", shared.ErrInvalidQuantity)
	ErrInsufficientStock = fmt.Errorf("purchase: %w", shared.ErrInsufficientStock)
)
