// Package totals holds the pure order rollup arithmetic shared by the
// purchase and sales sides.
package totals

import (
	"fmt"
	"time"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// Line carries the inputs of one item's total.
type Line struct {
	Quantity        float64
	UnitPrice       float64
	DiscountAmount  float64
	DiscountPercent float64
}

// LineTotal computes one item's total, floored at zero. Both an absolute
// discount and a percentage discount apply against the gross amount.
func LineTotal(l Line) float64 {
	gross := l.Quantity * l.UnitPrice
	total := gross - l.DiscountAmount - gross*l.DiscountPercent/100
	if total < 0 {
		return 0
	}
	return total
}

// Totals is a derived order header rollup.
type Totals struct {
	Subtotal      float64 `json:"subtotal"`
	DiscountTotal float64 `json:"discount_total"`
	TaxTotal      float64 `json:"tax_total"`
	ShippingTotal float64 `json:"shipping_total"`
	GrandTotal    float64 `json:"grand_total"`
	PaidTotal     float64 `json:"paid_total"`
	DueTotal      float64 `json:"due_total"`
}

// Compute derives the header rollup from item totals, header adjustments
// and the payment ledger. Grand and due totals never go negative.
func Compute(itemTotals []float64, discountTotal, taxTotal, shippingTotal, paidTotal float64) Totals {
	var subtotal float64
	for _, t := range itemTotals {
		subtotal += t
	}
	grand := subtotal - discountTotal + taxTotal + shippingTotal
	if grand < 0 {
		grand = 0
	}
	due := grand - paidTotal
	if due < 0 {
		due = 0
	}
	return Totals{
		Subtotal:      subtotal,
		DiscountTotal: discountTotal,
		TaxTotal:      taxTotal,
		ShippingTotal: shippingTotal,
		GrandTotal:    grand,
		PaidTotal:     paidTotal,
		DueTotal:      due,
	}
}

// Payment is one append-only ledger row. paid_total is always the sum of
// these rows, never operator input.
type Payment struct {
	ID        int64     `json:"id"`
	OrderType string    `json:"order_type"`
	OrderID   int64     `json:"order_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Reference string    `json:"reference,omitempty"`
	PaidAt    time.Time `json:"paid_at"`
}

// SumPayments totals the ledger.
func SumPayments(payments []Payment) float64 {
	var sum float64
	for _, p := range payments {
		sum += p.Amount
	}
	return sum
}

const tolerance = 0.005

// Reconcile compares a stored header rollup against a freshly derived one
// and rejects persisting on disagreement beyond rounding tolerance.
func Reconcile(stored, derived Totals) error {
	if differs(stored.Subtotal, derived.Subtotal) ||
		differs(stored.GrandTotal, derived.GrandTotal) ||
		differs(stored.PaidTotal, derived.PaidTotal) ||
		differs(stored.DueTotal, derived.DueTotal) {
		return fmt.Errorf("totals: stored header %+v disagrees with derived %+v: %w", stored, derived, shared.ErrInconsistentTotals)
	}
	return nil
}

func differs(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > tolerance
}
