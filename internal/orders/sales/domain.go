// Package sales posts sales orders, debiting branch stock and batch
// remaining quantity as goods leave.
package sales

import (
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/orders/totals"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Status of a sales order.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPosted    Status = "posted"
	StatusCancelled Status = "cancelled"
)

// Order is a sales order header.
type Order struct {
	ID         int64  `json:"id"`
	Reference  string `json:"reference"`
	BranchID   int64  `json:"branch_id"`
	CustomerID int64  `json:"customer_id"`
	Note       string `json:"note,omitempty"`
	Status     Status `json:"status"`
	totals.Totals
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     []Item    `json:"items,omitempty"`
}

// Item is one sold line. A non-zero BatchID binds the line to a batch; a
// zero one marks non-tracked goods with no stock effect.
type Item struct {
	ID              int64   `json:"id"`
	OrderID         int64   `json:"order_id"`
	ProductID       int64   `json:"product_id"`
	BatchID         int64   `json:"batch_id,omitempty"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountAmount  float64 `json:"discount_amount"`
	DiscountPercent float64 `json:"discount_percent"`
	Total           float64 `json:"total"`
}

// CreateInput opens a new order header.
type CreateInput struct {
	BranchID      int64
	CustomerID    int64
	Note          string
	DiscountTotal float64
	TaxTotal      float64
	ShippingTotal float64
	ActorID       int64
}

// ItemInput is one requested sales line.
type ItemInput struct {
	ProductID       int64
	BatchID         int64
	Quantity        float64
	UnitPrice       float64
	DiscountAmount  float64
	DiscountPercent float64
}

// UpdateItemInput carries an item edit. Nil fields keep the stored value.
type UpdateItemInput struct {
	BatchID         *int64
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
	ErrOrderNotFound     = fmt.Errorf("sales: order %w", shared.ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("sales: item %w", shared.ErrNotFound)
	ErrInvalidQuantity   = fmt.Errorf("sales: %w", shared.ErrInvalidQuantity)
	ErrInsufficientStock = fmt.Errorf("sales: %w", shared.ErrInsufficientStock)
)
